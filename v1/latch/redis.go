package latch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	latcherrors "github.com/mirkobrombin/go-latch/v1/errors"
	"github.com/mirkobrombin/go-latch/v1/wakebus"
)

// unlatchScript deletes the key only when the caller still owns it, so
// a holder whose lease expired cannot release a later holder's latch.
var unlatchScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// Redis is a latch set shared by several engine nodes through a Redis
// backend. Each held key stores a fencing token owned by the node that
// latched it; releases are announced on a wakebus Bus so Enter callers
// on other nodes wake without polling.
type Redis[T comparable] struct {
	client *redis.Client
	bus    wakebus.Bus
	encode func(T) string
	prefix string
	ttl    time.Duration

	mu     sync.Mutex
	tokens map[string]string
}

// RedisOption configures a Redis latch set.
type RedisOption[T comparable] func(*Redis[T])

// WithLeaseTTL bounds each hold with a lease so a crashed holder cannot
// wedge the cluster. Zero (the default) keeps holds unbounded, matching
// the in-memory contract. A lease expiry is silent on the bus, so
// callers pairing a lease with Enter should also bound the Enter
// context.
func WithLeaseTTL[T comparable](ttl time.Duration) RedisOption[T] {
	return func(r *Redis[T]) {
		r.ttl = ttl
	}
}

// WithKeyPrefix sets the Redis key namespace. The default is "latch:".
func WithKeyPrefix[T comparable](prefix string) RedisOption[T] {
	return func(r *Redis[T]) {
		r.prefix = prefix
	}
}

// WithKeyEncoder sets how keys are rendered into Redis key names. The
// default uses fmt.Sprint.
func WithKeyEncoder[T comparable](fn func(T) string) RedisOption[T] {
	return func(r *Redis[T]) {
		r.encode = fn
	}
}

// NewRedis returns a new Redis latch set using the provided client and
// bus. A nil bus falls back to a process-local one, which only makes
// sense when every participant lives in the same process.
func NewRedis[T comparable](client *redis.Client, bus wakebus.Bus, opts ...RedisOption[T]) *Redis[T] {
	if bus == nil {
		bus = wakebus.NewInMemoryBus()
	}
	r := &Redis[T]{
		client: client,
		bus:    bus,
		encode: func(k T) string { return fmt.Sprint(k) },
		prefix: "latch:",
		tokens: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis[T]) name(key T) string {
	return r.prefix + r.encode(key)
}

// Latch implements Set.Latch.
func (r *Redis[T]) Latch(ctx context.Context, key T) error {
	k := r.name(key)
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("latch %v: %w", key, latcherrors.ErrAlreadyLatched)
	}
	r.mu.Lock()
	r.tokens[k] = token
	r.mu.Unlock()
	return nil
}

// Unlatch implements Set.Unlatch. Releasing a key this node never
// latched, or whose lease already expired, reports ErrNotLatched.
func (r *Redis[T]) Unlatch(ctx context.Context, key T) error {
	k := r.name(key)
	r.mu.Lock()
	token, ok := r.tokens[k]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("unlatch %v: %w", key, latcherrors.ErrNotLatched)
	}
	n, err := unlatchScript.Run(ctx, r.client, []string{k}, token).Int()
	if err != nil && err != redis.Nil {
		return err
	}
	r.mu.Lock()
	delete(r.tokens, k)
	r.mu.Unlock()
	if n == 0 {
		return fmt.Errorf("unlatch %v: lease expired: %w", key, latcherrors.ErrNotLatched)
	}
	_ = r.bus.Publish(ctx, "unlatch:"+k)
	return nil
}

// Enter implements Set.Enter. The subscription is taken before the
// final existence check so a release cannot slip between check and
// park.
func (r *Redis[T]) Enter(ctx context.Context, key T) error {
	k := r.name(key)
	channel := "unlatch:" + k
	for {
		n, err := r.client.Exists(ctx, k).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		ch, err := r.bus.Subscribe(ctx, channel)
		if err != nil {
			return err
		}
		n, err = r.client.Exists(ctx, k).Result()
		if err != nil || n == 0 {
			_ = r.bus.Unsubscribe(context.Background(), channel, ch)
			return err
		}
		select {
		case <-ch:
		case <-ctx.Done():
			_ = r.bus.Unsubscribe(context.Background(), channel, ch)
			return ctx.Err()
		}
		_ = r.bus.Unsubscribe(context.Background(), channel, ch)
	}
}

// Break force-releases a latch regardless of owner, on behalf of the
// recovery subsystem, and wakes waiters. It reports whether the key was
// held.
func (r *Redis[T]) Break(ctx context.Context, key T) (bool, error) {
	k := r.name(key)
	n, err := r.client.Del(ctx, k).Result()
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	delete(r.tokens, k)
	r.mu.Unlock()
	if n == 0 {
		return false, nil
	}
	_ = r.bus.Publish(ctx, "unlatch:"+k)
	return true, nil
}

// Held reports whether the key is currently latched by any node.
func (r *Redis[T]) Held(ctx context.Context, key T) (bool, error) {
	n, err := r.client.Exists(ctx, r.name(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
