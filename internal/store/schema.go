// ABOUTME: Default tables for the relational nonce, user, and ACL backends
// ABOUTME: Created on demand by `gatekeeper init-db`

package store

import (
	"context"
	"fmt"
	"strings"
)

// Default table names used when the configuration does not override them.
const (
	TableNonces    = "hawk_nonces"
	TableUsers     = "users"
	TableRoles     = "acl_roles"
	TableInherits  = "acl_inherits"
	TableResources = "acl_resources"
	TableRules     = "acl_rules"
)

// schema is written in the subset of SQL both engines accept.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS hawk_nonces (
		nonce     TEXT PRIMARY KEY,
		timestamp BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_hawk_nonces_timestamp ON hawk_nonces(timestamp)`,

	`CREATE TABLE IF NOT EXISTS users (
		id        TEXT PRIMARY KEY,
		key       TEXT NOT NULL DEFAULT '',
		hawk_key  TEXT,
		basic_key TEXT,
		jwt_key   TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS acl_roles (
		name        TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS acl_inherits (
		role_name TEXT NOT NULL,
		inherit   TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS acl_resources (
		controller  TEXT NOT NULL,
		action      TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS acl_rules (
		role_name           TEXT NOT NULL,
		resource_controller TEXT NOT NULL,
		resource_action     TEXT NOT NULL,
		policy              TEXT NOT NULL
	)`,
}

// CreateSchema creates the default tables if they don't exist.
func (d *DB) CreateSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %s: %w", firstLine(stmt), err)
		}
	}
	d.logger.Info("schema ready", "driver", d.driver)
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
