// Package basic implements HTTP Basic authentication.
//
// Credentials are split on the first colon. An empty password fails with
// "User denied." before any verification. Otherwise the password is checked
// against the principal's stored bcrypt or argon2id hash, or handed to a
// Directory when one is configured.
package basic
