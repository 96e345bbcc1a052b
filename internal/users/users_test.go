// ABOUTME: Tests for the principal registry and its sources
// ABOUTME: Covers key precedence, file/config/database loading, and cache write-through

package users

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/2389/gatekeeper/internal/auth"
	"github.com/2389/gatekeeper/internal/cache"
	"github.com/2389/gatekeeper/internal/records"
	"github.com/2389/gatekeeper/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSource records how often the backend is read.
type countingSource struct {
	principals []Principal
	loads      int
	err        error
}

func (s *countingSource) Load(context.Context) ([]Principal, error) {
	s.loads++
	return s.principals, s.err
}

func setupTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(context.Background(), store.Config{
		Driver: store.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "users.db"),
	})
	require.NoError(t, err)
	require.NoError(t, db.CreateSchema(context.Background()))
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPrincipal_KeyFor(t *testing.T) {
	p := &Principal{ID: "alice", Key: "generic", Keys: map[string]string{KeyHawk: "hawk-secret"}}

	assert.Equal(t, "hawk-secret", p.KeyFor(auth.MechanismHawk))
	assert.Equal(t, "generic", p.KeyFor(auth.MechanismBasic))
	assert.Equal(t, "generic", p.KeyFor(auth.MechanismBearer))
}

func TestRegistry_Lookup(t *testing.T) {
	src := &countingSource{principals: []Principal{{ID: "alice", Key: "a"}, {ID: "bob", Key: "b"}}}
	r := NewRegistry(src, nil, "test:users")
	ctx := context.Background()

	p, err := r.Lookup(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "b", p.Key)

	_, err = r.Lookup(ctx, "mallory")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 1, src.loads, "list is built once")
}

func TestRegistry_SourceError(t *testing.T) {
	src := &countingSource{err: errors.New("backend down")}
	r := NewRegistry(src, nil, "k")

	_, err := r.Lookup(context.Background(), "alice")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRegistry_CacheRebuildIsIdempotent(t *testing.T) {
	ctx := context.Background()
	shared := cache.NewMemory(0, 10)
	t.Cleanup(func() { shared.Close() })

	src := &countingSource{principals: []Principal{
		{ID: "bob", Key: "b"},
		{ID: "alice", Key: "a", Keys: map[string]string{KeyJWT: "j"}},
	}}

	first := NewRegistry(src, shared, "test:users")
	firstBytes, err := first.Encoded(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, src.loads)

	// A second loader over the same backend and cache
	second := NewRegistry(src, shared, "test:users")
	secondBytes, err := second.Encoded(ctx)
	require.NoError(t, err)

	assert.Equal(t, firstBytes, secondBytes)
	assert.Equal(t, 1, src.loads, "second loader must not read the backend")

	p, err := second.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "j", p.KeyFor(auth.MechanismBearer))
}

func TestRegistry_Invalidate(t *testing.T) {
	ctx := context.Background()
	shared := cache.NewMemory(0, 10)
	t.Cleanup(func() { shared.Close() })

	src := &countingSource{principals: []Principal{{ID: "alice", Key: "a"}}}
	r := NewRegistry(src, shared, "test:users")
	_, err := r.Lookup(ctx, "alice")
	require.NoError(t, err)

	src.principals = []Principal{{ID: "alice", Key: "rotated"}}
	require.NoError(t, r.Invalidate(ctx))

	p, err := r.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "rotated", p.Key)
	assert.Equal(t, 2, src.loads)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.users"), []byte("# id,key\nalice,secret-a\n// more\nbob, \"se,cret\"\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not,a,user,file\n"), 0600))

	got, err := FileSource{Dir: dir}.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Principal{{ID: "alice", Key: "secret-a"}, {ID: "bob", Key: "se,cret"}}, got)
}

func TestFileSource_Malformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.users"), []byte("alice,secret,extra\n"), 0600))

	_, err := FileSource{Dir: dir}.Load(context.Background())
	var malformed *records.MalformedError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, 1, malformed.Line)
}

func TestConfigSource(t *testing.T) {
	got, err := ConfigSource{Users: map[string]string{"zed": "z", "amy": "a"}}.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Principal{{ID: "amy", Key: "a"}, {ID: "zed", Key: "z"}}, got)
}

func TestSQLSource(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	_, err := db.ExecContext(ctx, "INSERT INTO users (id, key, hawk_key) VALUES (?, ?, ?), (?, ?, NULL)",
		"alice", "generic-a", "hawk-a", "bob", "generic-b")
	require.NoError(t, err)

	src, err := NewSQLSource(ctx, db, "", "", map[string]string{KeyGeneric: "key", KeyHawk: "hawk_key"})
	require.NoError(t, err)

	got, err := src.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byID := map[string]Principal{}
	for _, p := range got {
		byID[p.ID] = p
	}
	assert.Equal(t, "hawk-a", byID["alice"].KeyFor(auth.MechanismHawk))
	assert.Equal(t, "generic-b", byID["bob"].KeyFor(auth.MechanismHawk))
}

func TestSQLSource_MissingColumn(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	_, err := NewSQLSource(ctx, db, "", "", map[string]string{KeyGeneric: "secret"})
	var missing *store.MissingColumnsError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"secret"}, missing.Missing)

	_, err = NewSQLSource(ctx, db, "", "", map[string]string{"ssh_key": "key"})
	assert.Error(t, err)
}

func TestSQLSource_EmptyID(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	_, err := db.ExecContext(ctx, "INSERT INTO users (id, key) VALUES (?, ?)", "", "x")
	require.NoError(t, err)

	src, err := NewSQLSource(ctx, db, "", "", nil)
	require.NoError(t, err)
	_, err = src.Load(ctx)
	assert.ErrorContains(t, err, "cannot be empty")
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, Options{Backend: BackendFile}, nil)
	assert.Error(t, err)

	_, err = Open(ctx, Options{Backend: BackendConfig}, nil)
	assert.Error(t, err)

	_, err = Open(ctx, Options{Backend: BackendDatabase}, nil)
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	r, err := Open(ctx, Options{Backend: BackendConfig, Static: map[string]string{"alice": "a"}}, nil)
	require.NoError(t, err)
	p, err := r.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "a", p.Key)
}

func TestOpen_Logger(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r, err := Open(ctx, Options{Backend: BackendConfig, Static: map[string]string{"alice": "a"}, Logger: logger}, nil)
	require.NoError(t, err)

	_, err = r.Lookup(ctx, "mallory")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, buf.String(), "principal not found")
	assert.Contains(t, buf.String(), "component=users")
}

func TestParseBackend(t *testing.T) {
	for in, want := range map[string]Backend{"": BackendFile, "FILE": BackendFile, "config": BackendConfig, "db": BackendDatabase} {
		got, err := ParseBackend(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseBackend("ldap")
	assert.Error(t, err)
}
