// Package dispatch puts authentication and access control in front of
// HTTP handlers and gRPC services.
//
// The dispatcher reads the scheme token of the Authorization header and
// rejects any scheme that is not configured before an authenticator runs.
// Accepted requests are routed to the Hawk, Basic, or Bearer verifier; the
// principal's key comes from the principal store. Failures become 401 with
// the mechanism's challenge, and the detailed message is only sent when the
// mechanism's disclose flag is set.
//
// RequireAllowed and the ACL interceptors check the authenticated principal
// against an Authorizer such as *acl.Engine and answer 403 (or
// PermissionDenied) on denial.
package dispatch
