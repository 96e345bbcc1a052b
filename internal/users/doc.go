// Package users resolves principals for the authentication mechanisms.
//
// A Registry builds the full principal list from its Source on first use,
// keeps it in memory, and writes it through the injected cache. Later
// registries sharing the cache read the list without touching the source.
// Invalidate drops both copies.
//
// Sources:
//
//   - FileSource: "id,key" lines in *.users files
//   - ConfigSource: a static id to key map from configuration
//   - SQLSource: a table whose id and key columns are configurable
//
// Principal.KeyFor prefers a mechanism key (hawk_key, basic_key, jwt_key)
// over the generic key.
package users
