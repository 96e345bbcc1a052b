// ABOUTME: Relational ACL source over four tables (roles, inherits, resources, rules)
// ABOUTME: Required columns are checked before any row is read

package acl

import (
	"context"
	"fmt"
	"slices"

	"github.com/2389/gatekeeper/internal/store"
)

// Tables names the four ACL tables. Empty fields take the store defaults.
type Tables struct {
	Roles     string
	Inherits  string
	Resources string
	Rules     string
}

func (t Tables) withDefaults() Tables {
	if t.Roles == "" {
		t.Roles = store.TableRoles
	}
	if t.Inherits == "" {
		t.Inherits = store.TableInherits
	}
	if t.Resources == "" {
		t.Resources = store.TableResources
	}
	if t.Rules == "" {
		t.Rules = store.TableRules
	}
	return t
}

// SQLSource reads definitions from the database.
type SQLSource struct {
	db     *store.DB
	tables Tables
	// roleDescriptions is set when the roles table has a description column.
	roleDescriptions bool
}

// NewSQLSource checks every table for its required columns.
func NewSQLSource(ctx context.Context, db *store.DB, tables Tables) (*SQLSource, error) {
	tables = tables.withDefaults()

	required := []struct {
		table string
		cols  []string
	}{
		{tables.Roles, []string{"name"}},
		{tables.Inherits, []string{"role_name", "inherit"}},
		{tables.Resources, []string{"controller", "action"}},
		{tables.Rules, []string{"role_name", "resource_controller", "resource_action", "policy"}},
	}
	for _, r := range required {
		if err := db.RequireColumns(ctx, r.table, r.cols...); err != nil {
			return nil, fmt.Errorf("acl table: %w", err)
		}
	}

	roleCols, err := db.Columns(ctx, tables.Roles)
	if err != nil {
		return nil, fmt.Errorf("acl table: %w", err)
	}

	return &SQLSource{
		db:               db,
		tables:           tables,
		roleDescriptions: slices.Contains(roleCols, "description"),
	}, nil
}

// Definitions implements Source.
func (s *SQLSource) Definitions(ctx context.Context) (*Definitions, error) {
	defs := &Definitions{}
	if err := s.loadRoles(ctx, defs); err != nil {
		return nil, err
	}
	if err := s.loadInherits(ctx, defs); err != nil {
		return nil, err
	}
	if err := s.loadResources(ctx, defs); err != nil {
		return nil, err
	}
	if err := s.loadRules(ctx, defs); err != nil {
		return nil, err
	}
	return defs, nil
}

func (s *SQLSource) loadRoles(ctx context.Context, defs *Definitions) error {
	query := "SELECT name, '' FROM " + s.tables.Roles
	if s.roleDescriptions {
		query = "SELECT name, COALESCE(description, '') FROM " + s.tables.Roles
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("querying roles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.Name, &r.Description); err != nil {
			return fmt.Errorf("scanning role: %w", err)
		}
		defs.Roles = append(defs.Roles, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading roles: %w", err)
	}
	return nil
}

func (s *SQLSource) loadInherits(ctx context.Context, defs *Definitions) error {
	rows, err := s.db.QueryContext(ctx, "SELECT role_name, inherit FROM "+s.tables.Inherits)
	if err != nil {
		return fmt.Errorf("querying inherits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var in Inherit
		if err := rows.Scan(&in.Role, &in.From); err != nil {
			return fmt.Errorf("scanning inherit: %w", err)
		}
		defs.Inherits = append(defs.Inherits, in)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading inherits: %w", err)
	}
	return nil
}

func (s *SQLSource) loadResources(ctx context.Context, defs *Definitions) error {
	rows, err := s.db.QueryContext(ctx, "SELECT controller, action FROM "+s.tables.Resources)
	if err != nil {
		return fmt.Errorf("querying resources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var controller, action string
		if err := rows.Scan(&controller, &action); err != nil {
			return fmt.Errorf("scanning resource: %w", err)
		}
		// Wildcards are rule targets, not declared actions.
		if controller == Wildcard || action == Wildcard {
			continue
		}
		defs.addResource(controller, "", action)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading resources: %w", err)
	}
	return nil
}

func (s *SQLSource) loadRules(ctx context.Context, defs *Definitions) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT role_name, resource_controller, resource_action, policy FROM "+s.tables.Rules)
	if err != nil {
		return fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r Rule
		var policy string
		if err := rows.Scan(&r.Role, &r.Controller, &r.Action, &policy); err != nil {
			return fmt.Errorf("scanning rule: %w", err)
		}
		if r.Policy, err = ParsePolicy(policy); err != nil {
			return fmt.Errorf("%s: %w", s.tables.Rules, err)
		}
		defs.Rules = append(defs.Rules, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading rules: %w", err)
	}
	return nil
}
