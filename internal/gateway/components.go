// ABOUTME: Opens the shared backends (database, cache, principals, ACL) from configuration
// ABOUTME: Used by the server and by CLI commands that inspect or reset state

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/2389/gatekeeper/internal/acl"
	"github.com/2389/gatekeeper/internal/cache"
	"github.com/2389/gatekeeper/internal/config"
	"github.com/2389/gatekeeper/internal/store"
	"github.com/2389/gatekeeper/internal/users"
)

// Components holds the backends every entry point needs. DB and ACL are nil
// when not configured; Cache and Nonces are always usable.
type Components struct {
	DB    *store.DB
	Cache cache.Cache
	// Nonces backs the cache nonce store. It never evicts entries before
	// they expire, so it is separate from a size-bounded memory Cache.
	Nonces cache.Cache
	Users  *users.Registry
	ACL    *acl.Engine

	closers []io.Closer
}

// OpenComponents opens the configured backends. Backends opened before a
// failure are closed again.
func OpenComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (c *Components, err error) {
	c = &Components{Cache: cache.Nop{}, Nonces: cache.Nop{}}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	if cfg.Database.Enabled() {
		c.DB, err = store.Open(ctx, store.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		c.closers = append(c.closers, c.DB)
	}

	if err = c.openCache(cfg); err != nil {
		return nil, err
	}

	parts, err := cfg.CacheParts()
	if err != nil {
		return nil, fmt.Errorf("cache parts: %w", err)
	}

	userOpts := users.Options{
		Backend:    cfg.Users.Backend,
		Dir:        cfg.Users.Dir,
		Static:     cfg.Users.Static,
		Table:      cfg.Users.Table,
		IDColumn:   cfg.Users.IDColumn,
		KeyColumns: cfg.Users.KeyColumns,
		Logger:     logger,
	}
	if parts.Users {
		userOpts.Cache = c.Cache
		userOpts.CacheKey = cache.Key(cfg.Cache.Prefix, cache.EntryUsers)
	}
	c.Users, err = users.Open(ctx, userOpts, c.DB)
	if err != nil {
		return nil, fmt.Errorf("opening users: %w", err)
	}

	if cfg.ACL.Enable {
		aclOpts := acl.Options{
			Backend:       cfg.ACL.Backend,
			Dir:           cfg.ACL.Dir,
			Tables:        cfg.ACL.Tables(),
			DefaultPolicy: cfg.ACL.DefaultPolicy,
			Logger:        logger,
		}
		if parts.ACL {
			aclOpts.Cache = c.Cache
			aclOpts.CacheKey = cache.Key(cfg.Cache.Prefix, cache.EntryACL)
		}
		c.ACL, err = acl.Open(ctx, aclOpts, c.DB)
		if err != nil {
			return nil, fmt.Errorf("opening acl: %w", err)
		}
	}

	logger.Info("backends opened",
		"database", cfg.Database.Enabled(),
		"cache", cfg.Cache.Backend.String(),
		"users", cfg.Users.Backend.String(),
		"acl", cfg.ACL.Enable,
	)
	return c, nil
}

func (c *Components) openCache(cfg *config.Config) error {
	switch cfg.Cache.Backend {
	case config.CacheMemory:
		mem := cache.NewMemory(cfg.Cache.TTL, cfg.Cache.MaxEntries)
		c.Cache, c.Nonces = mem, mem
		c.closers = append(c.closers, mem)
		if cfg.Cache.MaxEntries > 0 {
			nonces := cache.NewMemory(cfg.Hawk.Expire, 0)
			c.Nonces = nonces
			c.closers = append(c.closers, nonces)
		}
	case config.CacheLevelDB:
		ldb, err := cache.OpenLevelDB(cfg.Cache.Path, cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("opening leveldb cache: %w", err)
		}
		c.Cache, c.Nonces = ldb, ldb
		c.closers = append(c.closers, ldb)
	}
	return nil
}

// CacheEnabled reports whether a real cache backend was opened.
func (c *Components) CacheEnabled() bool {
	_, nop := c.Cache.(cache.Nop)
	return !nop
}

// Invalidate drops the cached principal list and ACL table so the next
// request rebuilds them from their sources.
func (c *Components) Invalidate(ctx context.Context) error {
	var errs []error
	if err := c.Users.Invalidate(ctx); err != nil {
		errs = append(errs, fmt.Errorf("users: %w", err))
	}
	if c.ACL != nil {
		if err := c.ACL.Invalidate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("acl: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases backends in reverse opening order.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = appendCloseError(errs, "closing backend", c.closers[i].Close())
	}
	c.closers = nil
	return errors.Join(errs...)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}
