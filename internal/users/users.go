// ABOUTME: Principal lookup for the authentication mechanisms
// ABOUTME: Builds the principal list once from a source and writes it through the cache

package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/gatekeeper/internal/auth"
	"github.com/2389/gatekeeper/internal/cache"
)

// ErrNotFound is returned when no principal has the requested ID.
var ErrNotFound = errors.New("principal not found")

// Key field names a principal may carry.
const (
	KeyGeneric = "key"
	KeyHawk    = "hawk_key"
	KeyBasic   = "basic_key"
	KeyJWT     = "jwt_key"
)

// Principal is an identity with a generic secret and optional
// mechanism-specific secrets.
type Principal struct {
	ID   string            `json:"id"`
	Key  string            `json:"key,omitempty"`
	Keys map[string]string `json:"keys,omitempty"`
}

// KeyFor returns the secret used by mechanism m: the mechanism-specific key
// when set, the generic key otherwise.
func (p *Principal) KeyFor(m auth.Mechanism) string {
	if k := p.Keys[m.KeyName()]; k != "" {
		return k
	}
	return p.Key
}

// Source loads every principal from a backend.
type Source interface {
	Load(ctx context.Context) ([]Principal, error)
}

// Registry answers principal lookups from a list built once per cache
// generation. It is safe for concurrent use.
type Registry struct {
	source   Source
	cache    cache.Cache
	cacheKey string
	logger   *slog.Logger

	mu   sync.RWMutex
	list map[string]*Principal
}

// NewRegistry returns a Registry reading from source. c may be nil to
// disable caching; cacheKey names the cache entry.
func NewRegistry(source Source, c cache.Cache, cacheKey string) *Registry {
	if c == nil {
		c = cache.Nop{}
	}
	return &Registry{
		source:   source,
		cache:    c,
		cacheKey: cacheKey,
		logger:   slog.Default().With("component", "users"),
	}
}

// Lookup returns the principal with the given ID.
func (r *Registry) Lookup(ctx context.Context, id string) (*Principal, error) {
	list, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := list[id]
	if !ok {
		r.logger.Debug("principal not found", "id", id)
		return nil, ErrNotFound
	}
	return p, nil
}

// Invalidate drops the built list and its cache entry. The next Lookup
// rebuilds from the source.
func (r *Registry) Invalidate(ctx context.Context) error {
	r.mu.Lock()
	r.list = nil
	r.mu.Unlock()

	if err := r.cache.Delete(ctx, r.cacheKey); err != nil {
		return fmt.Errorf("invalidating users cache: %w", err)
	}
	return nil
}

// Encoded returns the cached form of the principal list, building it if needed.
func (r *Registry) Encoded(ctx context.Context) ([]byte, error) {
	list, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return encode(list)
}

func (r *Registry) load(ctx context.Context) (map[string]*Principal, error) {
	r.mu.RLock()
	list := r.list
	r.mu.RUnlock()
	if list != nil {
		return list, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.list != nil {
		return r.list, nil
	}

	if data, ok, err := r.cache.Get(ctx, r.cacheKey); err != nil {
		r.logger.Warn("reading users cache failed, rebuilding", "error", err)
	} else if ok {
		list, err := decode(data)
		if err == nil {
			r.list = list
			return list, nil
		}
		r.logger.Warn("cached user list unreadable, rebuilding", "error", err)
	}

	principals, err := r.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading users: %w", err)
	}
	list = make(map[string]*Principal, len(principals))
	for i := range principals {
		p := principals[i]
		list[p.ID] = &p
	}

	data, err := encode(list)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, r.cacheKey, data, 0); err != nil {
		r.logger.Warn("writing users cache failed", "error", err)
	}

	r.logger.Info("user list built", "count", len(list))
	r.list = list
	return list, nil
}

// encode serialises principals sorted by ID so equal lists encode identically.
func encode(list map[string]*Principal) ([]byte, error) {
	sorted := make([]*Principal, 0, len(list))
	for _, p := range list {
		sorted = append(sorted, p)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	data, err := json.Marshal(sorted)
	if err != nil {
		return nil, fmt.Errorf("encoding user list: %w", err)
	}
	return data, nil
}

func decode(data []byte) (map[string]*Principal, error) {
	var sorted []*Principal
	if err := json.Unmarshal(data, &sorted); err != nil {
		return nil, fmt.Errorf("decoding user list: %w", err)
	}
	list := make(map[string]*Principal, len(sorted))
	for _, p := range sorted {
		list[p.ID] = p
	}
	return list, nil
}
