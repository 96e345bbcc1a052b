// Package auth holds the types shared by every authentication mechanism.
//
// # Results
//
// Each mechanism produces a Result:
//
//	Result{Authenticated: false, Message: "Duplicate nonce."}
//
// The Message is internal. ClientMessage(disclose) decides whether the client
// sees it or the generic "Authentication failed." string.
//
// # Mechanisms
//
// Mechanism is a closed set (Hawk, Basic, Bearer) parsed once from
// configuration. SchemeToken extracts the requested scheme from an
// Authorization header:
//
//	SchemeToken(`Hawk id="alice", ts="1700000000"`) // "Hawk"
//
// # Context
//
// After a successful authentication the dispatcher stores an AuthContext in
// the request context:
//
//	ctx = auth.WithAuth(ctx, &auth.AuthContext{PrincipalID: "alice"})
//	who := auth.FromContext(ctx)
//
// The principal ID doubles as the ACL role.
package auth
