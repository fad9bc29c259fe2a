package latch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	latcherrors "github.com/mirkobrombin/go-latch/v1/errors"
	"github.com/mirkobrombin/go-latch/v1/wakebus"
)

func newRedisSet(t *testing.T, opts ...RedisOption[uint64]) (*Redis[uint64], *miniredis.Miniredis, wakebus.Bus, context.Context) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := wakebus.NewInMemoryBus()
	set := NewRedis[uint64](client, bus, opts...)
	ctx := context.Background()
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return set, mr, bus, ctx
}

func TestRedisLatchUnlatchRoundTrip(t *testing.T) {
	set, _, _, ctx := newRedisSet(t)
	if err := set.Latch(ctx, 42); err != nil {
		t.Fatalf("latch: %v", err)
	}
	held, err := set.Held(ctx, 42)
	if err != nil || !held {
		t.Fatalf("held: %v %v", held, err)
	}
	if err := set.Unlatch(ctx, 42); err != nil {
		t.Fatalf("unlatch: %v", err)
	}
	held, err = set.Held(ctx, 42)
	if err != nil || held {
		t.Fatalf("expected key free, held %v err %v", held, err)
	}
	set.mu.Lock()
	if len(set.tokens) != 0 {
		t.Fatal("token not cleaned up on unlatch")
	}
	set.mu.Unlock()
}

func TestRedisDoubleLatchFails(t *testing.T) {
	set, _, bus, ctx := newRedisSet(t)
	other := NewRedis[uint64](set.client, bus)
	if err := set.Latch(ctx, 7); err != nil {
		t.Fatalf("latch: %v", err)
	}
	if err := set.Latch(ctx, 7); !errors.Is(err, latcherrors.ErrAlreadyLatched) {
		t.Fatalf("expected ErrAlreadyLatched, got %v", err)
	}
	// Held on another node is the same violation.
	if err := other.Latch(ctx, 7); !errors.Is(err, latcherrors.ErrAlreadyLatched) {
		t.Fatalf("expected ErrAlreadyLatched across nodes, got %v", err)
	}
}

func TestRedisUnlatchNotHeldFails(t *testing.T) {
	set, _, _, ctx := newRedisSet(t)
	if err := set.Unlatch(ctx, 9); !errors.Is(err, latcherrors.ErrNotLatched) {
		t.Fatalf("expected ErrNotLatched, got %v", err)
	}
}

func TestRedisUnlatchForeignHoldFails(t *testing.T) {
	set, _, bus, ctx := newRedisSet(t)
	other := NewRedis[uint64](set.client, bus)
	if err := set.Latch(ctx, 3); err != nil {
		t.Fatalf("latch: %v", err)
	}
	// The other node holds no token for the key.
	if err := other.Unlatch(ctx, 3); !errors.Is(err, latcherrors.ErrNotLatched) {
		t.Fatalf("expected ErrNotLatched for foreign hold, got %v", err)
	}
}

func TestRedisEnterBlocksUntilUnlatch(t *testing.T) {
	set, _, bus, ctx := newRedisSet(t)
	waiter := NewRedis[uint64](set.client, bus)
	if err := set.Latch(ctx, 42); err != nil {
		t.Fatalf("latch: %v", err)
	}

	entered := make(chan error, 1)
	go func() {
		entered <- waiter.Enter(ctx, 42)
	}()
	select {
	case err := <-entered:
		t.Fatalf("enter returned while key held: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	if err := set.Unlatch(ctx, 42); err != nil {
		t.Fatalf("unlatch: %v", err)
	}
	select {
	case err := <-entered:
		if err != nil {
			t.Fatalf("enter: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("enter did not return after unlatch")
	}
}

func TestRedisEnterContextCancel(t *testing.T) {
	set, _, _, ctx := newRedisSet(t)
	if err := set.Latch(ctx, 5); err != nil {
		t.Fatalf("latch: %v", err)
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	if err := set.Enter(cctx, 5); err == nil {
		t.Fatal("expected context error")
	}
}

func TestRedisLeaseExpiry(t *testing.T) {
	set, mr, _, ctx := newRedisSet(t, WithLeaseTTL[uint64](50*time.Millisecond))
	if err := set.Latch(ctx, 8); err != nil {
		t.Fatalf("latch: %v", err)
	}
	mr.FastForward(100 * time.Millisecond)
	held, err := set.Held(ctx, 8)
	if err != nil || held {
		t.Fatalf("expected lease expired, held %v err %v", held, err)
	}
	// The stale holder's unlatch reports the loss instead of deleting a
	// later holder's latch.
	if err := set.Unlatch(ctx, 8); !errors.Is(err, latcherrors.ErrNotLatched) {
		t.Fatalf("expected ErrNotLatched after expiry, got %v", err)
	}
}

func TestRedisBreak(t *testing.T) {
	set, _, bus, ctx := newRedisSet(t)
	waiter := NewRedis[uint64](set.client, bus)
	if err := set.Latch(ctx, 11); err != nil {
		t.Fatalf("latch: %v", err)
	}
	entered := make(chan error, 1)
	go func() {
		entered <- waiter.Enter(ctx, 11)
	}()
	time.Sleep(10 * time.Millisecond)

	broke, err := waiter.Break(ctx, 11)
	if err != nil || !broke {
		t.Fatalf("break: %v broke %v", err, broke)
	}
	select {
	case err := <-entered:
		if err != nil {
			t.Fatalf("enter: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released by break")
	}
	broke, err = waiter.Break(ctx, 11)
	if err != nil || broke {
		t.Fatalf("second break should find nothing, broke %v err %v", broke, err)
	}
}

func TestRedisKeyPrefixAndEncoder(t *testing.T) {
	set, mr, _, ctx := newRedisSet(t,
		WithKeyPrefix[uint64]("pack:free:"),
		WithKeyEncoder[uint64](func(k uint64) string { return "addr-42" }),
	)
	if err := set.Latch(ctx, 42); err != nil {
		t.Fatalf("latch: %v", err)
	}
	if !mr.Exists("pack:free:addr-42") {
		t.Fatal("expected namespaced key in redis")
	}
}
