// ABOUTME: Relational nonce store over a table with nonce and timestamp columns
// ABOUTME: Deletes expired rows before inserting each new nonce

package nonce

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/gatekeeper/internal/store"
)

// SQLStore keeps nonces in a database table.
type SQLStore struct {
	db     *store.DB
	table  string
	expire time.Duration
	now    func() time.Time
}

// NewSQLStore validates that table has nonce and timestamp columns and
// returns a store using it.
func NewSQLStore(ctx context.Context, db *store.DB, table string, expire time.Duration) (*SQLStore, error) {
	if err := db.RequireColumns(ctx, table, "nonce", "timestamp"); err != nil {
		return nil, fmt.Errorf("nonce table: %w", err)
	}
	return &SQLStore{db: db, table: table, expire: expire, now: time.Now}, nil
}

// Exists looks nonce up by value.
func (s *SQLStore) Exists(ctx context.Context, nonce string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.table+" WHERE nonce = ?", nonce).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("looking up nonce: %w", err)
	}
	return n > 0, nil
}

// Record deletes expired rows, then inserts nonce. Inserting a nonce that is
// already present is not an error.
func (s *SQLStore) Record(ctx context.Context, nonce string) error {
	now := s.now().Unix()
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM "+s.table+" WHERE (timestamp + ?) < ?",
		int64(s.expire/time.Second), now,
	); err != nil {
		return fmt.Errorf("pruning nonces: %w", err)
	}

	_, err := s.db.ExecContext(ctx, "INSERT INTO "+s.table+" (nonce, timestamp) VALUES (?, ?)", nonce, now)
	if err != nil && !store.IsUniqueViolation(err) {
		return fmt.Errorf("recording nonce: %w", err)
	}
	return nil
}
