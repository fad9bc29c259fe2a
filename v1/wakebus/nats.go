package wakebus

import (
	"context"
	"sync"
	"sync/atomic"

	nats "github.com/nats-io/nats.go"
)

type natsSubscription struct {
	sub   *nats.Subscription
	chans []chan struct{}
}

// NATSBus implements Bus using a NATS backend with one subject per key.
type NATSBus struct {
	conn      *nats.Conn
	mu        sync.Mutex
	subs      map[string]*natsSubscription
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{conn: conn, subs: make(map[string]*natsSubscription)}
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, key string) error {
	if err := b.conn.Publish(key, []byte("1")); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe. The first subscriber for a key
// opens the NATS subscription; later ones share it.
func (b *NATSBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	sub := b.subs[key]
	if sub == nil {
		ns, err := b.conn.Subscribe(key, func(_ *nats.Msg) {
			b.mu.Lock()
			cur := b.subs[key]
			var chans []chan struct{}
			if cur != nil {
				chans = append(chans, cur.chans...)
			}
			b.mu.Unlock()
			for _, c := range chans {
				select {
				case c <- struct{}{}:
					b.delivered.Add(1)
				default:
				}
			}
		})
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		sub = &natsSubscription{sub: ns}
		b.subs[key] = sub
	}
	sub.chans = append(sub.chans, ch)
	b.mu.Unlock()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe. The NATS subscription is
// dropped when the last local subscriber leaves.
func (b *NATSBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
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
	return sub.sub.Unsubscribe()
}

// Stats returns traffic counters.
func (b *NATSBus) Stats() Stats {
	return Stats{Published: b.published.Load(), Delivered: b.delivered.Load()}
}
