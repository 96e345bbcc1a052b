// ABOUTME: ACL definitions as read from a backend: roles, inheritance edges, resources, rules
// ABOUTME: Order of every list is the order records were read and decides precedence

package acl

import (
	"fmt"
	"strings"
)

// Policy is the outcome of a rule.
type Policy string

const (
	Allow Policy = "allow"
	Deny  Policy = "deny"
)

// ParsePolicy accepts "allow" or "deny".
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case Allow, Deny:
		return p, nil
	default:
		return "", fmt.Errorf("illegal ACL policy: %q", s)
	}
}

// UnmarshalText lets Policy be used directly in YAML and TOML config.
func (p *Policy) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Wildcard matches any controller or action in a rule.
const Wildcard = "*"

// Role is a named role.
type Role struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Inherit makes Role inherit the rules of From.
type Inherit struct {
	Role string `json:"role"`
	From string `json:"from"`
}

// Resource is a controller and the actions that can be invoked on it.
type Resource struct {
	Controller  string   `json:"controller"`
	Description string   `json:"description,omitempty"`
	Actions     []string `json:"actions"`
}

// Rule grants or denies Role the Action on Controller.
type Rule struct {
	Role       string `json:"role"`
	Controller string `json:"controller"`
	Action     string `json:"action"`
	Policy     Policy `json:"policy"`
}

// Definitions is everything a Source provides.
type Definitions struct {
	Roles     []Role
	Inherits  []Inherit
	Resources []Resource
	Rules     []Rule
}

// addResource merges actions into an existing controller entry or appends a
// new one, keeping first-seen order.
func (d *Definitions) addResource(controller, description string, actions ...string) {
	for i := range d.Resources {
		r := &d.Resources[i]
		if r.Controller != controller {
			continue
		}
		if r.Description == "" {
			r.Description = description
		}
		for _, a := range actions {
			if !contains(r.Actions, a) {
				r.Actions = append(r.Actions, a)
			}
		}
		return
	}
	d.Resources = append(d.Resources, Resource{Controller: controller, Description: description, Actions: dedupe(actions)})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func dedupe(list []string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != "" && !contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
