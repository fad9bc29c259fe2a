package wakebus

import (
	"context"
	"sync"
	"sync/atomic"

	redis "github.com/redis/go-redis/v9"

	latcherrors "github.com/mirkobrombin/go-latch/v1/errors"
)

type redisSubscription struct {
	pubsub *redis.PubSub
	chans  []chan struct{}
	done   chan struct{}
}

// RedisBus implements Bus over Redis pub/sub with one channel per key.
// Unlike an invalidation bus there is no batching: a release must reach
// waiters as soon as Redis can carry it.
type RedisBus struct {
	client *redis.Client

	mu        sync.Mutex
	subs      map[string]*redisSubscription
	closed    bool
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewRedisBus returns a new RedisBus using the provided client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client, subs: make(map[string]*redisSubscription)}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, key string) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return latcherrors.ErrBusClosed
	}
	if err := b.client.Publish(ctx, key, "1").Err(); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe. The first subscriber for a key
// opens the Redis subscription; later ones share it.
func (b *RedisBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, latcherrors.ErrBusClosed
	}
	sub := b.subs[key]
	if sub == nil {
		pubsub := b.client.Subscribe(ctx, key)
		if _, err := pubsub.Receive(ctx); err != nil {
			b.mu.Unlock()
			_ = pubsub.Close()
			return nil, err
		}
		sub = &redisSubscription{pubsub: pubsub, done: make(chan struct{})}
		b.subs[key] = sub
		go b.dispatch(key, sub)
	}
	sub.chans = append(sub.chans, ch)
	b.mu.Unlock()
	return ch, nil
}

func (b *RedisBus) dispatch(key string, sub *redisSubscription) {
	msgs := sub.pubsub.Channel()
	for {
		select {
		case _, ok := <-msgs:
			if !ok {
				return
			}
			b.mu.Lock()
			chans := append([]chan struct{}(nil), sub.chans...)
			b.mu.Unlock()
			for _, c := range chans {
				select {
				case c <- struct{}{}:
					b.delivered.Add(1)
				default:
				}
			}
		case <-sub.done:
			return
		}
	}
}

// Unsubscribe implements Bus.Unsubscribe. The Redis subscription is
// closed when the last local subscriber leaves.
func (b *RedisBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
	b.mu.Lock()
	sub := b.subs[key]
	if sub == nil {
		b.mu.Unlock()
		return nil
	}
	for i, c := range sub.chans {
		if c == ch {
			sub.chans = append(sub.chans[:i], sub.chans[i+1:]...)
			break
		}
	}
	if len(sub.chans) > 0 {
		b.mu.Unlock()
		return nil
	}
	delete(b.subs, key)
	b.mu.Unlock()
	close(sub.done)
	return sub.pubsub.Close()
}

// Close tears down every subscription. The bus is unusable afterwards.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*redisSubscription)
	b.mu.Unlock()
	var err error
	for _, sub := range subs {
		close(sub.done)
		if cerr := sub.pubsub.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Stats returns traffic counters.
func (b *RedisBus) Stats() Stats {
	return Stats{Published: b.published.Load(), Delivered: b.delivered.Load()}
}
