// ABOUTME: ACL engine answering isAllowed(role, controller, action) from a compiled table
// ABOUTME: The table comes from the cache when present, otherwise it is rebuilt and written through

package acl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/2389/gatekeeper/internal/cache"
	"github.com/2389/gatekeeper/internal/store"
)

// Source provides the raw ACL definitions.
type Source interface {
	Definitions(ctx context.Context) (*Definitions, error)
}

// Backend identifies an ACL source.
type Backend int

const (
	BackendFile Backend = iota
	BackendDatabase
)

// ParseBackend maps a configured backend name to a Backend.
func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "file":
		return BackendFile, nil
	case "database", "db":
		return BackendDatabase, nil
	default:
		return 0, fmt.Errorf("unknown acl backend: %q", name)
	}
}

func (b Backend) String() string {
	switch b {
	case BackendFile:
		return "file"
	case BackendDatabase:
		return "database"
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

// Options configures Open and NewEngine.
type Options struct {
	Backend       Backend
	Dir           string
	Tables        Tables
	DefaultPolicy Policy
	// Cache and CacheKey enable write-through caching of the compiled table.
	Cache    cache.Cache
	CacheKey string
	Logger   *slog.Logger
}

// ErrBackendUnavailable is returned when a backend's dependency was not supplied.
var ErrBackendUnavailable = errors.New("acl backend dependency not configured")

// Open builds an Engine over the configured backend. db is required for the
// database backend only.
func Open(ctx context.Context, opts Options, db *store.DB) (*Engine, error) {
	var source Source
	switch opts.Backend {
	case BackendFile:
		if opts.Dir == "" {
			return nil, errors.New("acl backend 'file' requires acl.dir")
		}
		source = FileSource{Dir: opts.Dir}
	case BackendDatabase:
		if db == nil {
			return nil, fmt.Errorf("%w: database backend requires a database section", ErrBackendUnavailable)
		}
		src, err := NewSQLSource(ctx, db, opts.Tables)
		if err != nil {
			return nil, err
		}
		source = src
	default:
		return nil, fmt.Errorf("unknown acl backend: %v", opts.Backend)
	}
	return NewEngine(source, opts)
}

// Engine evaluates access decisions. It is safe for concurrent use.
type Engine struct {
	source        Source
	cache         cache.Cache
	cacheKey      string
	defaultPolicy Policy
	logger        *slog.Logger

	mu    sync.RWMutex
	table *Table
}

// NewEngine creates an engine. The table is built lazily on first use.
// An empty DefaultPolicy means Deny.
func NewEngine(source Source, opts Options) (*Engine, error) {
	policy := opts.DefaultPolicy
	if policy == "" {
		policy = Deny
	}
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, fmt.Errorf("acl default policy: %w", err)
	}

	c := opts.Cache
	if c == nil {
		c = cache.Nop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		source:        source,
		cache:         c,
		cacheKey:      opts.CacheKey,
		defaultPolicy: policy,
		logger:        logger.With("component", "acl"),
	}, nil
}

// DefaultPolicy returns the policy applied when no rule matches.
func (e *Engine) DefaultPolicy() Policy {
	return e.defaultPolicy
}

// IsAllowed reports whether role may invoke action on controller. Errors
// come only from building the table.
func (e *Engine) IsAllowed(ctx context.Context, role, controller, action string) (bool, error) {
	t, err := e.Table(ctx)
	if err != nil {
		return false, err
	}

	policy, matched := t.Decide(role, controller, action)
	if !matched {
		policy = e.defaultPolicy
	}
	e.logger.Debug("acl decision",
		"role", role,
		"controller", controller,
		"action", action,
		"policy", policy,
		"matched", matched,
	)
	return policy == Allow, nil
}

// Table returns the compiled table, from memory, the cache, or the source.
func (e *Engine) Table(ctx context.Context) (*Table, error) {
	e.mu.RLock()
	t := e.table
	e.mu.RUnlock()
	if t != nil {
		return t, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.table != nil {
		return e.table, nil
	}

	if data, ok, err := e.cache.Get(ctx, e.cacheKey); err != nil {
		e.logger.Warn("reading acl cache failed, rebuilding", "error", err)
	} else if ok {
		var cached Table
		decodeErr := json.Unmarshal(data, &cached)
		if decodeErr == nil {
			e.table = &cached
			return e.table, nil
		}
		e.logger.Warn("cached acl table unreadable, rebuilding", "error", decodeErr)
	}

	defs, err := e.source.Definitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading acl: %w", err)
	}
	t = Compile(defs, e.logger)

	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encoding acl table: %w", err)
	}
	if err := e.cache.Set(ctx, e.cacheKey, data, 0); err != nil {
		e.logger.Warn("writing acl cache failed", "error", err)
	}

	e.logger.Info("acl table built",
		"roles", len(defs.Roles),
		"resources", len(defs.Resources),
		"rules", len(defs.Rules),
	)
	e.table = t
	return t, nil
}

// Encoded returns the serialised table as stored in the cache.
func (e *Engine) Encoded(ctx context.Context) ([]byte, error) {
	t, err := e.Table(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encoding acl table: %w", err)
	}
	return data, nil
}

// Invalidate drops the compiled table and its cache entry.
func (e *Engine) Invalidate(ctx context.Context) error {
	e.mu.Lock()
	e.table = nil
	e.mu.Unlock()

	if err := e.cache.Delete(ctx, e.cacheKey); err != nil {
		return fmt.Errorf("invalidating acl cache: %w", err)
	}
	return nil
}
