// ABOUTME: Cache abstraction injected into the ACL engine, user registry, and nonce store
// ABOUTME: Defines the interface, namespaced keys, and the cache parts selector

package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Cache stores opaque values under string keys with an optional TTL.
// A ttl of zero means the backend's default expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Well-known entry names, combined with a deployment prefix by Key.
const (
	EntryACL   = "acl"
	EntryUsers = "users"
)

// Key namespaces name under prefix, e.g. Key("gatekeeper", "acl") is "gatekeeper:acl".
func Key(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + ":" + name
}

// Parts selects which loaders write their compiled state through the cache.
type Parts struct {
	ACL   bool
	Users bool
}

// ParseParts builds Parts from configured names ("acl", "users").
// An empty list enables every part.
func ParseParts(names []string) (Parts, error) {
	if len(names) == 0 {
		return Parts{ACL: true, Users: true}, nil
	}
	var p Parts
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case EntryACL:
			p.ACL = true
		case EntryUsers:
			p.Users = true
		default:
			return Parts{}, fmt.Errorf("unknown cache part: %q", name)
		}
	}
	return p, nil
}

// Nop is a Cache that never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Delete(context.Context, string) error                     { return nil }
