// Package store provides the relational connection used by the database
// backends of the nonce store, the user registry, and the ACL engine.
//
// # Drivers
//
//   - sqlite: modernc.org/sqlite, DSN is a file path (":memory:" for tests)
//   - postgres: pgx through database/sql, DSN is a connection string
//
// SQLite is opened with WAL mode and foreign keys enabled:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Queries
//
// Backends write queries with ? placeholders; DB rewrites them for Postgres.
// Table and column names come from configuration, so they are checked with
// ValidateIdentifier and RequireColumns before any row is read.
//
// # Schema
//
// CreateSchema creates the default tables (hawk_nonces, users, acl_roles,
// acl_inherits, acl_resources, acl_rules). Deployments may point the
// backends at their own tables instead, as long as the required columns exist.
//
// # Error Handling
//
//   - ErrNotFound: requested row does not exist
//   - ErrInvalidIdentifier: configured table or column name rejected
//   - *MissingColumnsError: configured table lacks required columns
package store
