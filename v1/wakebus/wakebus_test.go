package wakebus

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()
	ch1, err := bus.Subscribe(ctx, "unlatch:1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ch2, err := bus.Subscribe(ctx, "unlatch:1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(ctx, "unlatch:1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for i, ch := range []chan struct{}{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d missed the signal", i)
		}
	}
}

func TestInMemoryBusKeyIsolation(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()
	ch, err := bus.Subscribe(ctx, "unlatch:2")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(ctx, "unlatch:other"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-ch:
		t.Fatal("subscriber woken by unrelated key")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestInMemoryBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()
	ch, err := bus.Subscribe(ctx, "unlatch:3")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Unsubscribe(ctx, "unlatch:3", ch); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := bus.Publish(ctx, "unlatch:3"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-ch:
		t.Fatal("delivery after unsubscribe")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestInMemoryBusEveryReleaseDelivered(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()
	ch, err := bus.Subscribe(ctx, "unlatch:4")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// Two releases back to back with a drain in between must yield two
	// wakes; releases are never coalesced across a drain.
	if err := bus.Publish(ctx, "unlatch:4"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	<-ch
	if err := bus.Publish(ctx, "unlatch:4"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("second release lost")
	}
}

func TestInMemoryBusStats(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()
	ch, _ := bus.Subscribe(ctx, "k")
	_ = bus.Publish(ctx, "k")
	<-ch
	st := bus.Stats()
	if st.Published != 1 || st.Delivered != 1 {
		t.Fatalf("stats = %+v, want 1 published 1 delivered", st)
	}
}
