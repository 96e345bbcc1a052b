// ABOUTME: Relational connection shared by the nonce, user, and ACL database backends
// ABOUTME: Opens SQLite (modernc.org/sqlite) or Postgres (pgx) and validates table columns

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Driver identifies a supported database engine.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidIdentifier is returned for table or column names that are not
	// plain SQL identifiers.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// identifierPattern matches plain (optionally schema-qualified) SQL identifiers.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Config selects and addresses the database.
type Config struct {
	Driver Driver
	DSN    string // file path for sqlite, connection string for postgres
}

// DB wraps a database/sql handle with the dialect details the backends need.
type DB struct {
	db     *sql.DB
	driver Driver
	logger *slog.Logger
}

// Open connects to the configured database. For SQLite the parent directory
// is created if needed and WAL mode and foreign keys are enabled.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	logger := slog.Default().With("component", "store")

	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case DriverSQLite:
		db, err = openSQLite(ctx, cfg.DSN)
	case DriverPostgres:
		db, err = sql.Open("pgx", cfg.DSN)
		if err == nil {
			if pingErr := db.PingContext(ctx); pingErr != nil {
				db.Close()
				err = fmt.Errorf("pinging database: %w", pingErr)
			}
		}
	default:
		return nil, fmt.Errorf("unknown database driver: %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("database opened", "driver", cfg.Driver)
	return &DB{db: db, driver: cfg.Driver, logger: logger}, nil
}

func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// Driver returns the engine this handle talks to.
func (d *DB) Driver() Driver {
	return d.driver
}

// Rebind rewrites ? placeholders as $1, $2, ... for Postgres. Queries are
// returned unchanged for SQLite.
func (d *DB) Rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ExecContext runs a statement written with ? placeholders.
func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.Rebind(query), args...)
}

// QueryContext runs a query written with ? placeholders.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, d.Rebind(query), args...)
}

// QueryRowContext runs a single-row query written with ? placeholders.
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, d.Rebind(query), args...)
}

// ValidateIdentifier rejects names that cannot be safely interpolated into SQL.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// Columns returns the column names of table without reading any rows.
func (d *DB) Columns(ctx context.Context, table string) ([]string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx, "SELECT * FROM "+table+" WHERE 1=0")
	if err != nil {
		return nil, fmt.Errorf("inspecting table %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}
	for i, c := range cols {
		cols[i] = strings.ToLower(c)
	}
	return cols, nil
}

// MissingColumnsError names the columns a table lacks.
type MissingColumnsError struct {
	Table   string
	Missing []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("table %s is missing required columns: %s", e.Table, strings.Join(e.Missing, ", "))
}

// RequireColumns verifies that table exposes every named column. It returns a
// *MissingColumnsError listing all absent columns.
func (d *DB) RequireColumns(ctx context.Context, table string, required ...string) error {
	cols, err := d.Columns(ctx, table)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c] = true
	}

	var missing []string
	for _, r := range required {
		if err := ValidateIdentifier(r); err != nil {
			return err
		}
		if !have[strings.ToLower(r)] {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		return &MissingColumnsError{Table: table, Missing: missing}
	}
	return nil
}

// IsUniqueViolation reports whether err is a unique constraint failure on
// either supported engine.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
