// ABOUTME: Package acl decides whether a role may invoke an action on a controller
// ABOUTME: Definitions come from files or the database and compile into an immutable table

// Package acl implements role-based access control over controller/action
// resources.
//
// Roles may inherit from other roles. Rules grant or deny a role an action on
// a controller; "*" as the action matches every action of the controller and
// "*,*" matches everything. Inheritance is expanded once when the table is
// compiled, so a decision is a handful of map lookups.
//
// Precedence, first match wins:
//
//  1. an exact controller/action rule on the role, then on each inherited
//     role in inheritance order;
//  2. a controller wildcard rule, in the same role order;
//  3. a global wildcard rule, in the same role order.
//
// When two rules name the same role, controller and action, the one read
// last wins. When nothing matches, including for unknown roles and
// undeclared resources, the engine's default policy applies.
package acl
