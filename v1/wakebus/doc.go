// Package wakebus carries release notifications for the distributed
// latch set. When a node unlatches a key it publishes on the key's
// channel; Enter callers on other nodes subscribe and re-check instead
// of polling. Events are bare signals with no payload and are never
// batched or deduplicated: coalescing two releases of the same key
// could strand a waiter between them. Implementations exist for local
// memory, Redis pub/sub, NATS and Kafka.
package wakebus
