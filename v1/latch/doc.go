// Package latch provides a sharded set of exclusively held keys used to
// bracket the window between freeing a storage address and the durable
// commit of that free. Latch marks a key held, Unlatch releases it and
// wakes waiters, and Enter blocks while the key is held. Keys are routed
// to independently synchronized shards by hash, with a prime shard count
// to spread clustered hash values. An in-memory implementation covers a
// single engine process; a Redis-backed one coordinates several nodes
// through a wakebus Bus.
//
// The set is not a general purpose lock manager: holds are not reentrant,
// waiters are not served fairly, and latching a held key or unlatching a
// free one is a protocol bug reported as an error, never a wait.
package latch
