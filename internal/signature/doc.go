// Package signature creates and validates compact JSON Web Tokens.
//
// Only the HMAC-SHA family (HS256, HS384, HS512) is implemented. RS and PS
// algorithm names are recognised and rejected with ErrUnimplementedAlgorithm
// so that asymmetric tokens are never accepted by accident.
package signature
