// ABOUTME: Cache-backed nonce store keeping one namespaced entry per nonce
// ABOUTME: Expiry is delegated to the cache TTL

package nonce

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/gatekeeper/internal/cache"
)

// CacheStore keeps nonces as individual cache entries.
type CacheStore struct {
	cache  cache.Cache
	prefix string
	expire time.Duration
}

// NewCacheStore returns a store writing entries under prefix.
func NewCacheStore(c cache.Cache, prefix string, expire time.Duration) *CacheStore {
	return &CacheStore{cache: c, prefix: prefix, expire: expire}
}

func (s *CacheStore) key(nonce string) string {
	return cache.Key(s.prefix, "nonce:"+nonce)
}

// Exists reports whether an unexpired entry exists for nonce.
func (s *CacheStore) Exists(ctx context.Context, nonce string) (bool, error) {
	_, ok, err := s.cache.Get(ctx, s.key(nonce))
	if err != nil {
		return false, fmt.Errorf("looking up nonce: %w", err)
	}
	return ok, nil
}

// Record stores an entry for nonce that expires with the replay window.
func (s *CacheStore) Record(ctx context.Context, nonce string) error {
	if err := s.cache.Set(ctx, s.key(nonce), []byte{1}, s.expire); err != nil {
		return fmt.Errorf("recording nonce: %w", err)
	}
	return nil
}
