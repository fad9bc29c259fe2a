package wakebus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus is a minimal pub/sub surface used to wake Enter callers when a
// key is released. Subscription channels have a buffer of one pending
// signal; a signal dropped because one is already pending is harmless
// since every waiter re-checks its key after waking.
//
// Callers own their subscription lifecycle: a channel obtained from
// Subscribe must be returned through Unsubscribe when the waiter is
// done with it.
type Bus interface {
	Publish(ctx context.Context, key string) error
	Subscribe(ctx context.Context, key string) (chan struct{}, error)
	Unsubscribe(ctx context.Context, key string, ch chan struct{}) error
}

// Stats reports bus traffic since creation.
type Stats struct {
	Published uint64
	Delivered uint64
}

// InMemoryBus is a local implementation of Bus. It backs the in-process
// case and the tests.
type InMemoryBus struct {
	mu        sync.Mutex
	subs      map[string][]chan struct{}
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string][]chan struct{})}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, key string) error {
	b.mu.Lock()
	chans := append([]chan struct{}(nil), b.subs[key]...)
	b.mu.Unlock()
	b.published.Add(1)
	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
			b.delivered.Add(1)
		default:
		}
	}
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *InMemoryBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[key] = append(b.subs[key], ch)
	b.mu.Unlock()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
	b.mu.Lock()
	chans := b.subs[key]
	for i, c := range chans {
		if c == ch {
			b.subs[key] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(b.subs[key]) == 0 {
		delete(b.subs, key)
	}
	b.mu.Unlock()
	return nil
}

// Stats returns traffic counters.
func (b *InMemoryBus) Stats() Stats {
	return Stats{Published: b.published.Load(), Delivered: b.delivered.Load()}
}
