// Package jwtauth authenticates bearer tokens.
//
// A Verifier holds the claim policy: the required claims (configured claims,
// default aud and iss, always plus sub, exp, and iat), accepted audiences and
// issuers, and a grace period in seconds. Parse splits a compact token once
// per request; the caller resolves the principal named by Subject, calls
// SetKey, then Authenticate.
//
// Checks run in this order, the first failure deciding the message:
//
//  1. required claims present ("Missing claims: exp, iat.")
//  2. nbf, iat, exp against now with grace
//  3. audience, then issuer, when required
//  4. a key is set ("User denied.")
//  5. the HMAC signature ("Signature invalid.")
//
// Signatures are computed by package signature.
package jwtauth
