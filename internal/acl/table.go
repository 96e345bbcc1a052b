// ABOUTME: Compiled ACL decision table with inheritance expanded at build time
// ABOUTME: Immutable once built and serialisable for the cache

package acl

import (
	"log/slog"
	"slices"
)

// Table is the compiled form of Definitions. It is never mutated after
// Compile returns.
type Table struct {
	// Chains maps each role to itself followed by every role it inherits
	// from, breadth first in inheritance insertion order.
	Chains map[string][]string `json:"chains"`
	// Resources maps each controller to its declared actions.
	Resources map[string][]string `json:"resources"`
	// Grants maps "role!controller!action" to the policy of the last rule
	// declared for that triple.
	Grants map[string]Policy `json:"grants"`
}

func grantKey(role, controller, action string) string {
	return role + "!" + controller + "!" + action
}

// Compile builds a Table. Inheritance edges and rules that reference
// undeclared roles or resources are dropped and logged; they can never match.
func Compile(defs *Definitions, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Table{
		Chains:    make(map[string][]string, len(defs.Roles)),
		Resources: make(map[string][]string, len(defs.Resources)),
		Grants:    make(map[string]Policy, len(defs.Rules)),
	}

	declared := make(map[string]bool, len(defs.Roles))
	for _, r := range defs.Roles {
		declared[r.Name] = true
	}

	edges := make(map[string][]string)
	for _, in := range defs.Inherits {
		if !declared[in.Role] || !declared[in.From] {
			logger.Warn("acl inherit references undeclared role", "role", in.Role, "from", in.From)
			continue
		}
		if !slices.Contains(edges[in.Role], in.From) {
			edges[in.Role] = append(edges[in.Role], in.From)
		}
	}

	for _, r := range defs.Roles {
		if _, done := t.Chains[r.Name]; done {
			continue
		}
		chain, cyclic := closure(r.Name, edges)
		if cyclic {
			logger.Warn("acl inheritance cycle", "role", r.Name)
		}
		t.Chains[r.Name] = chain
	}

	for _, res := range defs.Resources {
		t.Resources[res.Controller] = append(t.Resources[res.Controller], res.Actions...)
	}

	for _, rule := range defs.Rules {
		if !declared[rule.Role] {
			logger.Warn("acl rule references undeclared role", "role", rule.Role)
			continue
		}
		if !t.resourceDeclared(rule.Controller, rule.Action) {
			logger.Warn("acl rule references undeclared resource", "controller", rule.Controller, "action", rule.Action)
			continue
		}
		t.Grants[grantKey(rule.Role, rule.Controller, rule.Action)] = rule.Policy
	}
	return t
}

// closure walks inheritance breadth first from role. A visited set stops
// cycles; cyclic reports whether the walk led back to role.
func closure(role string, edges map[string][]string) (chain []string, cyclic bool) {
	visited := map[string]bool{role: true}
	chain = []string{role}
	for i := 0; i < len(chain); i++ {
		for _, next := range edges[chain[i]] {
			if next == role {
				cyclic = true
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			chain = append(chain, next)
		}
	}
	return chain, cyclic
}

// resourceDeclared reports whether a rule target can ever match.
func (t *Table) resourceDeclared(controller, action string) bool {
	if controller == Wildcard {
		return action == Wildcard
	}
	actions, ok := t.Resources[controller]
	if !ok {
		return false
	}
	return action == Wildcard || slices.Contains(actions, action)
}

// Decide returns the policy for role invoking action on controller, and
// false when nothing applies. Unknown roles and undeclared resources never
// match. Precedence: an exact rule on the role or its ancestors (nearest
// first), then a controller wildcard, then a global wildcard.
func (t *Table) Decide(role, controller, action string) (Policy, bool) {
	chain, ok := t.Chains[role]
	if !ok {
		return "", false
	}
	if !slices.Contains(t.Resources[controller], action) {
		return "", false
	}

	for _, target := range [][2]string{
		{controller, action},
		{controller, Wildcard},
		{Wildcard, Wildcard},
	} {
		for _, r := range chain {
			if p, ok := t.Grants[grantKey(r, target[0], target[1])]; ok {
				return p, true
			}
		}
	}
	return "", false
}
