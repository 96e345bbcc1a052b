// Package hawk implements the Hawk HTTP MAC authentication scheme.
//
// # Server
//
// A Verifier holds the accepted algorithms, the timestamp window, and the
// nonce store. For every inbound request the caller creates a Request with
// NewRequest, resolves the principal named by ID, calls SetKey, then
// Authenticate. Checks run in this order:
//
//  1. a key is set ("User denied.")
//  2. the requested algorithm is accepted ("Algorithm not allowed.")
//  3. the nonce is new, then recorded ("Duplicate nonce.")
//  4. the MAC matches ("Request not authentic.")
//  5. |ts - now| <= expire ("Request too far into future." / "Request expired.")
//  6. the payload hash matches when sent ("Payload mismatch.")
//
// After a successful Authenticate, ServerAuthorization signs the response.
//
// # Canonical strings
//
//	hawk.1.payload\n<content-type>\n<body>\n
//	hawk.1.header\n<ts>\n<nonce>\n<method>\n<uri>\n<host>\n<port>\n<hash>\n<ext>\n
//
// # Client
//
// Sign sets a Hawk Authorization header on an outgoing request and
// VerifyServerAuthorization checks the server's response signature.
package hawk
