// ABOUTME: Bearer token authentication with claim validation and HMAC signature checks
// ABOUTME: A Verifier holds claim policy; a Token holds one request's parsed token

package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/2389/gatekeeper/internal/auth"
	"github.com/2389/gatekeeper/internal/signature"
)

// Failure messages returned in auth.Result.
const (
	MsgAudienceMismatch = "Token audience mismatch."
	MsgIssuerMismatch   = "Token issuer mismatch."
	MsgNotYetValid      = "Token not yet valid."
	MsgIssuedInFuture   = "Token issued at a future time."
	MsgExpired          = "Token expired."
	MsgUserDenied       = "User denied."
	MsgSignatureInvalid = "Signature invalid."
)

// Registered claim names.
const (
	ClaimSubject   = "sub"
	ClaimAudience  = "aud"
	ClaimIssuer    = "iss"
	ClaimExpiry    = "exp"
	ClaimIssuedAt  = "iat"
	ClaimNotBefore = "nbf"
)

// DefaultIdentity is the audience and issuer accepted when none are configured.
const DefaultIdentity = "gatekeeper"

// alwaysRequired are required regardless of configuration.
var alwaysRequired = []string{ClaimSubject, ClaimExpiry, ClaimIssuedAt}

// Config configures a Verifier.
type Config struct {
	// Claims that must be present in addition to sub, exp, and iat.
	// Nil means aud and iss; an empty non-nil slice requires only the fixed set.
	Claims []string
	// Audiences and Issuers accepted when aud or iss is required.
	Audiences []string
	Issuers   []string
	// Grace widens every time check by this many seconds.
	Grace  int64
	Now    func() time.Time
	Logger *slog.Logger
}

// Verifier validates bearer tokens. It is safe for concurrent use.
type Verifier struct {
	required  []string
	audiences []string
	issuers   []string
	grace     int64
	now       func() time.Time
	logger    *slog.Logger
}

// NewVerifier returns a Verifier for cfg.
func NewVerifier(cfg Config) *Verifier {
	claims := cfg.Claims
	if claims == nil {
		claims = []string{ClaimAudience, ClaimIssuer}
	}
	var required []string
	for _, c := range append(slices.Clone(claims), alwaysRequired...) {
		c = strings.TrimSpace(c)
		if c != "" && !slices.Contains(required, c) {
			required = append(required, c)
		}
	}

	audiences := cfg.Audiences
	if len(audiences) == 0 {
		audiences = []string{DefaultIdentity}
	}
	issuers := cfg.Issuers
	if len(issuers) == 0 {
		issuers = []string{DefaultIdentity}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Verifier{
		required:  required,
		audiences: audiences,
		issuers:   issuers,
		grace:     cfg.Grace,
		now:       cfg.Now,
		logger:    cfg.Logger.With("component", "jwt"),
	}
}

// Required returns the required claim names in reporting order.
func (v *Verifier) Required() []string {
	return slices.Clone(v.required)
}

// Challenge returns the WWW-Authenticate value sent with a failed attempt.
func (v *Verifier) Challenge() string {
	return "Bearer"
}

// ParseGrace converts a configured grace value to whole seconds. Values that
// are not integers are logged and treated as zero.
func ParseGrace(value any, logger *slog.Logger) int64 {
	if logger == nil {
		logger = slog.Default()
	}
	switch g := value.(type) {
	case nil:
		return 0
	case int:
		return int64(g)
	case int64:
		return g
	case float64:
		if g == math.Trunc(g) {
			return int64(g)
		}
	}
	logger.Warn("jwt grace is not an integer, using 0", "grace", value)
	return 0
}

// Parse splits a compact token. A token that is not three decodable
// segments yields an empty subject and fails authentication later.
func (v *Verifier) Parse(raw string) *Token {
	t := &Token{v: v, raw: raw}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		v.logger.Debug("malformed token", "segments", len(parts))
		return t
	}
	header, err := signature.DecodeSegment(parts[0])
	if err != nil {
		v.logger.Debug("token header failed to decode", "error", err)
		return t
	}
	payload, err := signature.DecodeSegment(parts[1])
	if err != nil {
		v.logger.Debug("token payload failed to decode", "error", err)
		return t
	}

	t.header = header
	t.payload = payload
	t.subject, _ = payload[ClaimSubject].(string)
	return t
}

// Token is the verification state of one bearer token. It must not be
// reused across requests.
type Token struct {
	v       *Verifier
	raw     string
	header  map[string]any
	payload map[string]any
	subject string
	key     []byte
}

// Subject returns the sub claim, or "" when the token is malformed.
func (t *Token) Subject() string {
	return t.subject
}

// Algorithm returns the alg named in the token header.
func (t *Token) Algorithm() string {
	alg, _ := t.header["alg"].(string)
	return alg
}

// Claim returns a raw payload claim.
func (t *Token) Claim(name string) (any, bool) {
	v, ok := t.payload[name]
	return v, ok
}

// SetKey sets the signing secret of the principal named by Subject.
func (t *Token) SetKey(key string) {
	t.key = []byte(key)
}

// Authenticate validates the token. The first failing check decides the
// message: missing claims, then time claims, then audience and issuer, then
// the key, then the signature.
func (t *Token) Authenticate(_ context.Context) auth.Result {
	v := t.v
	logger := v.logger.With("sub", t.subject)

	if missing := t.missingClaims(); len(missing) > 0 {
		joined := strings.Join(missing, ", ")
		logger.Debug("missing claims", "claims", joined)
		return auth.Failure("Missing claims: " + joined + ".")
	}

	now := v.now().Unix()
	notBefore := t.numeric(ClaimNotBefore) - v.grace
	issuedAt := t.numeric(ClaimIssuedAt) - v.grace
	expires := t.numeric(ClaimExpiry) + v.grace
	switch {
	case notBefore > now:
		logger.Debug("nbf outside threshold", "delta", notBefore-now, "grace", v.grace)
		return auth.Failure(MsgNotYetValid)
	case issuedAt > now:
		logger.Debug("iat outside threshold", "delta", issuedAt-now, "grace", v.grace)
		return auth.Failure(MsgIssuedInFuture)
	case expires <= now:
		logger.Debug("exp outside threshold", "delta", expires-now, "grace", v.grace)
		return auth.Failure(MsgExpired)
	}

	if slices.Contains(v.required, ClaimAudience) && !t.matches(ClaimAudience, v.audiences) {
		logger.Debug("audience mismatch", "expected", strings.Join(v.audiences, ", "), "got", t.payload[ClaimAudience])
		return auth.Failure(MsgAudienceMismatch)
	}
	if slices.Contains(v.required, ClaimIssuer) && !t.matches(ClaimIssuer, v.issuers) {
		logger.Debug("issuer mismatch", "expected", strings.Join(v.issuers, ", "), "got", t.payload[ClaimIssuer])
		return auth.Failure(MsgIssuerMismatch)
	}

	if len(t.key) == 0 {
		logger.Debug("no key set for principal")
		return auth.Failure(MsgUserDenied)
	}

	valid, err := signature.Validate(t.raw, t.key)
	if err != nil {
		// Unknown or unimplemented algorithms are reported to the client as-is.
		logger.Debug("signature algorithm rejected", "error", err)
		if errors.Is(err, signature.ErrUnimplementedAlgorithm) || errors.Is(err, signature.ErrUnknownAlgorithm) {
			return auth.Failure(err.Error())
		}
		return auth.Failure(MsgSignatureInvalid)
	}
	if !valid {
		logger.Debug("signature mismatch")
		return auth.Failure(MsgSignatureInvalid)
	}

	logger.Debug("authenticated")
	return auth.Success()
}

func (t *Token) missingClaims() []string {
	var missing []string
	for _, c := range t.v.required {
		if _, ok := t.payload[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

// numeric reads a NumericDate claim; absent or non-numeric claims read as zero.
func (t *Token) numeric(name string) int64 {
	switch n := t.payload[name].(type) {
	case float64:
		return int64(n)
	case string:
		var parsed int64
		if _, err := fmt.Sscan(n, &parsed); err == nil {
			return parsed
		}
	}
	return 0
}

// matches reports whether the claim (a string or list of strings) contains
// an accepted value.
func (t *Token) matches(name string, accepted []string) bool {
	switch c := t.payload[name].(type) {
	case string:
		return slices.Contains(accepted, c)
	case []any:
		for _, item := range c {
			if s, ok := item.(string); ok && slices.Contains(accepted, s) {
				return true
			}
		}
	}
	return false
}

// Issue creates a signed token with the given claims. iat and exp are set
// from now and ttl unless already present.
func Issue(alg string, secret []byte, claims map[string]any, ttl time.Duration, now time.Time) (string, error) {
	payload := make(map[string]any, len(claims)+2)
	for k, v := range claims {
		payload[k] = v
	}
	if _, ok := payload[ClaimIssuedAt]; !ok {
		payload[ClaimIssuedAt] = now.Unix()
	}
	if _, ok := payload[ClaimExpiry]; !ok {
		payload[ClaimExpiry] = now.Add(ttl).Unix()
	}
	token, err := signature.Create(map[string]any{"alg": alg, "typ": "JWT"}, payload, secret)
	if err != nil {
		return "", fmt.Errorf("issuing token: %w", err)
	}
	return token, nil
}
