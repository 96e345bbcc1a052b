// ABOUTME: Principal sources: *.users files, a static config map, and a database table
// ABOUTME: Backend selection happens once in Open

package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/2389/gatekeeper/internal/cache"
	"github.com/2389/gatekeeper/internal/records"
	"github.com/2389/gatekeeper/internal/store"
)

// Backend identifies a principal source.
type Backend int

const (
	BackendFile Backend = iota
	BackendConfig
	BackendDatabase
)

// ParseBackend maps a configured backend name to a Backend.
func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "file":
		return BackendFile, nil
	case "config":
		return BackendConfig, nil
	case "database", "db":
		return BackendDatabase, nil
	default:
		return 0, fmt.Errorf("unknown users backend: %q", name)
	}
}

func (b Backend) String() string {
	switch b {
	case BackendFile:
		return "file"
	case BackendConfig:
		return "config"
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

// FileExt is the extension of principal definition files.
const FileExt = ".users"

// FileSource reads "id,key" records from every *.users file in a directory.
type FileSource struct {
	Dir string
}

// Load implements Source.
func (s FileSource) Load(_ context.Context) ([]Principal, error) {
	recs, err := records.ReadDir(s.Dir, FileExt)
	if err != nil {
		return nil, err
	}
	out := make([]Principal, 0, len(recs))
	for _, r := range recs {
		if len(r.Fields) != 2 || r.Fields[0] == "" {
			return nil, r.Malformed("2")
		}
		out = append(out, Principal{ID: r.Fields[0], Key: r.Fields[1]})
	}
	return out, nil
}

// ConfigSource serves principals from a static id to key map.
type ConfigSource struct {
	Users map[string]string
}

// Load implements Source.
func (s ConfigSource) Load(_ context.Context) ([]Principal, error) {
	out := make([]Principal, 0, len(s.Users))
	for _, id := range slices.Sorted(maps.Keys(s.Users)) {
		out = append(out, Principal{ID: id, Key: s.Users[id]})
	}
	return out, nil
}

// SQLSource reads principals from a table. KeyColumns maps key field names
// (key, hawk_key, basic_key, jwt_key) to column names.
type SQLSource struct {
	db         *store.DB
	table      string
	idColumn   string
	keyColumns map[string]string
}

// NewSQLSource validates the table layout before any row is read.
func NewSQLSource(ctx context.Context, db *store.DB, table, idColumn string, keyColumns map[string]string) (*SQLSource, error) {
	if table == "" {
		table = store.TableUsers
	}
	if idColumn == "" {
		idColumn = "id"
	}
	if len(keyColumns) == 0 {
		keyColumns = map[string]string{KeyGeneric: "key"}
	}
	for field := range keyColumns {
		switch field {
		case KeyGeneric, KeyHawk, KeyBasic, KeyJWT:
		default:
			return nil, fmt.Errorf("unknown user key field %q", field)
		}
	}

	cols := []string{idColumn}
	for _, field := range slices.Sorted(maps.Keys(keyColumns)) {
		cols = append(cols, keyColumns[field])
	}
	if err := db.RequireColumns(ctx, table, cols...); err != nil {
		return nil, fmt.Errorf("users table: %w", err)
	}

	return &SQLSource{db: db, table: table, idColumn: idColumn, keyColumns: keyColumns}, nil
}

// Load implements Source.
func (s *SQLSource) Load(ctx context.Context) ([]Principal, error) {
	fields := slices.Sorted(maps.Keys(s.keyColumns))
	cols := []string{s.idColumn}
	for _, f := range fields {
		cols = append(cols, s.keyColumns[f])
	}

	rows, err := s.db.QueryContext(ctx, "SELECT "+strings.Join(cols, ", ")+" FROM "+s.table)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var out []Principal
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		dest := make([]any, len(cols))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		if !vals[0].Valid || vals[0].String == "" {
			return nil, fmt.Errorf("users table %s: column %s cannot be empty", s.table, s.idColumn)
		}

		p := Principal{ID: vals[0].String}
		for i, field := range fields {
			v := vals[i+1]
			if !v.Valid {
				continue
			}
			if field == KeyGeneric {
				p.Key = v.String
				continue
			}
			if p.Keys == nil {
				p.Keys = make(map[string]string)
			}
			p.Keys[field] = v.String
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading users: %w", err)
	}
	return out, nil
}

// Options configures Open.
type Options struct {
	Backend    Backend
	Dir        string
	Static     map[string]string
	Table      string
	IDColumn   string
	KeyColumns map[string]string
	// Cache and CacheKey enable write-through caching of the built list.
	Cache    cache.Cache
	CacheKey string
	Logger   *slog.Logger
}

// ErrBackendUnavailable is returned when a backend's dependency was not supplied.
var ErrBackendUnavailable = errors.New("users backend dependency not configured")

// Open builds a Registry over the configured backend. db is required for the
// database backend only.
func Open(ctx context.Context, opts Options, db *store.DB) (*Registry, error) {
	var source Source
	switch opts.Backend {
	case BackendFile:
		if opts.Dir == "" {
			return nil, errors.New("users backend 'file' requires users.dir")
		}
		source = FileSource{Dir: opts.Dir}
	case BackendConfig:
		if opts.Static == nil {
			return nil, errors.New("users backend 'config' requires a users.static section")
		}
		source = ConfigSource{Users: opts.Static}
	case BackendDatabase:
		if db == nil {
			return nil, fmt.Errorf("%w: database backend requires a database section", ErrBackendUnavailable)
		}
		src, err := NewSQLSource(ctx, db, opts.Table, opts.IDColumn, opts.KeyColumns)
		if err != nil {
			return nil, err
		}
		source = src
	default:
		return nil, fmt.Errorf("unknown users backend: %v", opts.Backend)
	}
	r := NewRegistry(source, opts.Cache, opts.CacheKey)
	if opts.Logger != nil {
		r.logger = opts.Logger.With("component", "users")
	}
	return r, nil
}
