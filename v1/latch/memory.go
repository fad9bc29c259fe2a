package latch

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	latcherrors "github.com/mirkobrombin/go-latch/v1/errors"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-latch/v1/latch")

// shard is one independently synchronized partition of the key space.
// release is closed and replaced on every Unlatch, broadcasting to all
// waiters parked on this shard; each waiter re-checks its own key.
type shard[T comparable] struct {
	mu      sync.Mutex
	held    map[T]struct{}
	release chan struct{}
}

// InMemory is a sharded set of exclusively held keys for a single
// process. The shard count is fixed at construction: the smallest prime
// at or above the caller's size hint.
type InMemory[T comparable] struct {
	shards []shard[T]
	hasher Hasher[T]

	latchCounter   prometheus.Counter
	unlatchCounter prometheus.Counter
	waitCounter    prometheus.Counter
	heldGauge      prometheus.Gauge
	traceEnabled   bool
}

// InMemoryOption configures an InMemory latch set.
type InMemoryOption[T comparable] func(*InMemory[T])

// WithMetrics enables Prometheus metrics collection using the provided registerer.
func WithMetrics[T comparable](reg prometheus.Registerer) InMemoryOption[T] {
	return func(l *InMemory[T]) {
		l.latchCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "latch_set_latched_total",
			Help: "Total number of successful Latch operations",
		})
		l.unlatchCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "latch_set_released_total",
			Help: "Total number of successful Unlatch operations",
		})
		l.waitCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "latch_set_enter_waits_total",
			Help: "Total number of Enter calls that parked on a held key",
		})
		l.heldGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "latch_set_held_keys",
			Help: "Current number of held keys",
		})
		reg.MustRegister(l.latchCounter, l.unlatchCounter, l.waitCounter, l.heldGauge)
	}
}

// WithTracing enables OpenTelemetry spans on every operation.
func WithTracing[T comparable]() InMemoryOption[T] {
	return func(l *InMemory[T]) {
		l.traceEnabled = true
	}
}

// NewInMemory returns a new in-memory latch set with at least sizeHint
// shards, routed by hasher. The shard count is rounded up to a prime
// and capped at the largest entry of the built-in prime table.
func NewInMemory[T comparable](sizeHint int, hasher Hasher[T], opts ...InMemoryOption[T]) *InMemory[T] {
	size := nearestPrime(sizeHint)
	l := &InMemory[T]{
		shards: make([]shard[T], size),
		hasher: hasher,
	}
	for i := range l.shards {
		l.shards[i].held = make(map[T]struct{})
		l.shards[i].release = make(chan struct{})
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewInMemoryUint64 returns an in-memory latch set for 64-bit storage
// addresses.
func NewInMemoryUint64(sizeHint int, opts ...InMemoryOption[uint64]) *InMemory[uint64] {
	return NewInMemory(sizeHint, Uint64Hasher, opts...)
}

// NewInMemoryString returns an in-memory latch set for string keys.
func NewInMemoryString(sizeHint int, opts ...InMemoryOption[string]) *InMemory[string] {
	return NewInMemory(sizeHint, StringHasher, opts...)
}

func (l *InMemory[T]) shardFor(key T) *shard[T] {
	return &l.shards[l.hasher(key)%uint64(len(l.shards))]
}

// Latch implements Set.Latch.
func (l *InMemory[T]) Latch(ctx context.Context, key T) error {
	if l.traceEnabled {
		var span trace.Span
		_, span = tracer.Start(ctx, "Latch.Latch")
		span.SetAttributes(attribute.String("latch.key", fmt.Sprint(key)))
		defer span.End()
	}

	s := l.shardFor(key)
	s.mu.Lock()
	if _, ok := s.held[key]; ok {
		s.mu.Unlock()
		return fmt.Errorf("latch %v: %w", key, latcherrors.ErrAlreadyLatched)
	}
	s.held[key] = struct{}{}
	s.mu.Unlock()

	if l.latchCounter != nil {
		l.latchCounter.Inc()
		l.heldGauge.Inc()
	}
	return nil
}

// Unlatch implements Set.Unlatch. Every waiter parked on the key's
// shard is woken; waiters for other keys sharing the shard re-check and
// park again.
func (l *InMemory[T]) Unlatch(ctx context.Context, key T) error {
	if l.traceEnabled {
		var span trace.Span
		_, span = tracer.Start(ctx, "Latch.Unlatch")
		span.SetAttributes(attribute.String("latch.key", fmt.Sprint(key)))
		defer span.End()
	}

	s := l.shardFor(key)
	s.mu.Lock()
	if _, ok := s.held[key]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("unlatch %v: %w", key, latcherrors.ErrNotLatched)
	}
	delete(s.held, key)
	close(s.release)
	s.release = make(chan struct{})
	s.mu.Unlock()

	if l.unlatchCounter != nil {
		l.unlatchCounter.Inc()
		l.heldGauge.Dec()
	}
	return nil
}

// Enter implements Set.Enter. Wakeups caused by other keys on the same
// shard are absorbed by the re-check loop.
func (l *InMemory[T]) Enter(ctx context.Context, key T) error {
	if l.traceEnabled {
		var span trace.Span
		_, span = tracer.Start(ctx, "Latch.Enter")
		span.SetAttributes(attribute.String("latch.key", fmt.Sprint(key)))
		defer span.End()
	}

	s := l.shardFor(key)
	s.mu.Lock()
	for {
		if _, ok := s.held[key]; !ok {
			s.mu.Unlock()
			return nil
		}
		ch := s.release
		s.mu.Unlock()
		if l.waitCounter != nil {
			l.waitCounter.Inc()
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
}

// Break force-releases a stuck latch on behalf of the recovery
// subsystem and wakes the shard's waiters. It reports whether the key
// was held. Ordinary release must go through Unlatch; Break exists so
// recovery can reconcile an address whose holder died before
// unlatching.
func (l *InMemory[T]) Break(key T) bool {
	s := l.shardFor(key)
	s.mu.Lock()
	_, ok := s.held[key]
	if ok {
		delete(s.held, key)
		close(s.release)
		s.release = make(chan struct{})
	}
	s.mu.Unlock()
	if ok && l.heldGauge != nil {
		l.heldGauge.Dec()
	}
	return ok
}

// Held reports whether the key is currently latched.
func (l *InMemory[T]) Held(key T) bool {
	s := l.shardFor(key)
	s.mu.Lock()
	_, ok := s.held[key]
	s.mu.Unlock()
	return ok
}

// Shards returns the fixed shard count.
func (l *InMemory[T]) Shards() int {
	return len(l.shards)
}

// Stats is a point-in-time snapshot of the set.
type Stats struct {
	Shards int
	Held   int
}

// Stats returns the shard count and the total number of held keys. The
// count is taken shard by shard and may lag concurrent operations.
func (l *InMemory[T]) Stats() Stats {
	st := Stats{Shards: len(l.shards)}
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		st.Held += len(s.held)
		s.mu.Unlock()
	}
	return st
}
