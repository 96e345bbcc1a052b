// Package nonce implements the Hawk replay-protection store.
//
// Three backends share the Store contract:
//
//   - FileStore: "nonce,timestamp" lines in one file, pruned on every Record.
//     A line that does not have exactly two fields is a configuration error.
//   - SQLStore: a table with nonce and timestamp columns; expired rows are
//     deleted before each insert.
//   - CacheStore: one cache entry per nonce, expiring with the replay window.
//     The cache must not evict entries before they expire; a size-bounded
//     cache would let a flood of fresh nonces push out live ones and reopen
//     the replay window.
//
// A record is expired when timestamp + expire < now. Exists does not prune,
// so an expired nonce keeps matching until the next Record.
//
// Record returns ErrUnstorable for a nonce the backend cannot represent,
// such as one containing a comma in the file format.
//
// Exists followed by Record is not atomic across processes. Callers inside a
// process serialise the pair (see hawk.Verifier).
package nonce
