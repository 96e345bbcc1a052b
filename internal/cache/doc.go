// Package cache provides the cache abstraction shared by the ACL engine, the
// user registry, and the cache-backed nonce store.
//
// # Backends
//
//   - Memory: in-process, TTL plus size bound, background cleanup.
//   - LevelDB: on-disk, survives restarts, expiry stored with each value.
//   - Nop: caching disabled.
//
// Keys are namespaced with a deployment prefix via Key. Parts selects which
// loaders write through the cache.
package cache
