package latch

import (
	"context"

	"github.com/cespare/xxhash/v2"
)

// Set defines the contract between the commit path and a latch set.
//
// T is the key type, typically a storage address.
type Set[T comparable] interface {
	// Latch records the key as exclusively held. Latching a key that is
	// already held is a contract violation and returns an error wrapping
	// errors.ErrAlreadyLatched; Latch never blocks waiting for a holder.
	Latch(ctx context.Context, key T) error
	// Unlatch releases a held key and wakes every Enter caller parked on
	// its shard. Unlatching a key that is not held returns an error
	// wrapping errors.ErrNotLatched.
	Unlatch(ctx context.Context, key T) error
	// Enter blocks while the key is held and returns once it is not.
	// It returns ctx.Err() if the context is cancelled first; with
	// context.Background() it waits indefinitely.
	Enter(ctx context.Context, key T) error
}

// Hasher maps a key to a 64-bit hash used for shard routing. The hash
// must be stable for as long as the key may be held; collisions only
// cost contention, never correctness.
type Hasher[T comparable] func(T) uint64

// Uint64Hasher finalizes a 64-bit address with a splitmix64 mix so that
// sequential addresses do not land on sequential shards.
func Uint64Hasher(k uint64) uint64 {
	k ^= k >> 30
	k *= 0xbf58476d1ce4e5b9
	k ^= k >> 27
	k *= 0x94d049bb133111eb
	k ^= k >> 31
	return k
}

// StringHasher hashes a string key with xxhash.
func StringHasher(k string) uint64 {
	return xxhash.Sum64String(k)
}
