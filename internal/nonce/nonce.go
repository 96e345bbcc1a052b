// ABOUTME: Replay protection store contract and backend selection
// ABOUTME: Backends are chosen once from configuration and share one Exists/Record contract

package nonce

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/2389/gatekeeper/internal/cache"
	"github.com/2389/gatekeeper/internal/store"
)

// FileName is the nonce file created inside the configured directory.
const FileName = "gatekeeper.hawk.nonce"

// DefaultExpire is the replay window used when none is configured.
const DefaultExpire = 60 * time.Second

// Store records nonces that have been seen and reports whether a nonce was
// seen before. Records older than the expire window are pruned when new
// records are written.
type Store interface {
	Exists(ctx context.Context, nonce string) (bool, error)
	Record(ctx context.Context, nonce string) error
}

// Backend identifies a nonce store implementation.
type Backend int

const (
	BackendFile Backend = iota
	BackendDatabase
	BackendCache
)

// ParseBackend maps a configured backend name to a Backend.
func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "file":
		return BackendFile, nil
	case "database", "db":
		return BackendDatabase, nil
	case "cache":
		return BackendCache, nil
	default:
		return 0, fmt.Errorf("unknown nonce backend: %q", name)
	}
}

func (b Backend) String() string {
	switch b {
	case BackendFile:
		return "file"
	case BackendDatabase:
		return "database"
	case BackendCache:
		return "cache"
	default:
		return "unknown"
	}
}

// UnmarshalText lets Backend be used directly in YAML and TOML config.
func (b *Backend) UnmarshalText(text []byte) error {
	parsed, err := ParseBackend(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Options configures Open.
type Options struct {
	Backend Backend
	Expire  time.Duration
	Dir     string // file backend
	Table   string // database backend
	Prefix  string // cache backend key prefix
}

// ErrBackendUnavailable is returned when a backend's dependency was not supplied.
var ErrBackendUnavailable = errors.New("nonce backend dependency not configured")

// ErrUnstorable is returned by Record when a backend cannot represent the
// nonce. The nonce came from the client, so verifiers treat it as a failed
// authentication rather than a server error.
var ErrUnstorable = errors.New("nonce cannot be stored")

// Open builds the configured Store. db is required for the database backend
// and c for the cache backend; both may be nil otherwise.
func Open(ctx context.Context, opts Options, db *store.DB, c cache.Cache) (Store, error) {
	if opts.Expire <= 0 {
		opts.Expire = DefaultExpire
	}

	switch opts.Backend {
	case BackendFile:
		dir := opts.Dir
		if dir == "" {
			dir = "/tmp"
		}
		return NewFileStore(dir, opts.Expire), nil
	case BackendDatabase:
		if db == nil {
			return nil, fmt.Errorf("%w: database backend requires a database section", ErrBackendUnavailable)
		}
		table := opts.Table
		if table == "" {
			table = store.TableNonces
		}
		return NewSQLStore(ctx, db, table, opts.Expire)
	case BackendCache:
		if c == nil {
			return nil, fmt.Errorf("%w: cache backend requires a cache section", ErrBackendUnavailable)
		}
		return NewCacheStore(c, opts.Prefix, opts.Expire), nil
	default:
		return nil, fmt.Errorf("unknown nonce backend: %v", opts.Backend)
	}
}

// expired reports whether a record made at recordedAt has left the window.
func expired(recordedAt int64, expire time.Duration, now time.Time) bool {
	return recordedAt+int64(expire/time.Second) < now.Unix()
}
