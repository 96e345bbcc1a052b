// ABOUTME: File ACL source reading *.roles, *.inherits, *.resources and *.rules from one directory
// ABOUTME: Every file group is comment-tolerant CSV; a row with the wrong field count aborts the load

package acl

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/gatekeeper/internal/records"
)

// File extensions of the four definition groups.
const (
	RolesExt     = ".roles"
	InheritsExt  = ".inherits"
	ResourcesExt = ".resources"
	RulesExt     = ".rules"
)

// FileSource reads definitions from a directory.
//
//	*.roles      name[,description]
//	*.inherits   role,inherits_from
//	*.resources  controller,description,action1;action2
//	*.rules      role,controller,action,allow|deny
type FileSource struct {
	Dir string
}

// Definitions implements Source.
func (s FileSource) Definitions(_ context.Context) (*Definitions, error) {
	defs := &Definitions{}

	roles, err := records.ReadDir(s.Dir, RolesExt)
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		if len(r.Fields) < 1 || len(r.Fields) > 2 || r.Fields[0] == "" {
			return nil, r.Malformed("1 or 2")
		}
		defs.Roles = append(defs.Roles, Role{Name: r.Fields[0], Description: r.Field(1)})
	}

	inherits, err := records.ReadDir(s.Dir, InheritsExt)
	if err != nil {
		return nil, err
	}
	for _, r := range inherits {
		if len(r.Fields) != 2 {
			return nil, r.Malformed("2")
		}
		defs.Inherits = append(defs.Inherits, Inherit{Role: r.Fields[0], From: r.Fields[1]})
	}

	resources, err := records.ReadDir(s.Dir, ResourcesExt)
	if err != nil {
		return nil, err
	}
	for _, r := range resources {
		if len(r.Fields) != 3 {
			return nil, r.Malformed("3")
		}
		var actions []string
		for _, a := range strings.Split(r.Fields[2], ";") {
			if a = strings.TrimSpace(a); a != "" {
				actions = append(actions, a)
			}
		}
		defs.addResource(r.Fields[0], r.Fields[1], actions...)
	}

	rules, err := records.ReadDir(s.Dir, RulesExt)
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		if len(r.Fields) != 4 {
			return nil, r.Malformed("4")
		}
		policy, err := ParsePolicy(r.Fields[3])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", r.File, r.Line, err)
		}
		defs.Rules = append(defs.Rules, Rule{
			Role:       r.Fields[0],
			Controller: r.Fields[1],
			Action:     r.Fields[2],
			Policy:     policy,
		})
	}

	return defs, nil
}
