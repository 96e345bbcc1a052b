// ABOUTME: Tests for bearer token verification
// ABOUTME: Covers claim precedence, time windows with grace, audience/issuer lists, and signatures

package jwtauth

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/2389/gatekeeper/internal/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testNow    = time.Unix(1_700_000_000, 0)
	testSecret = "jwt-test-secret"
)

func newTestVerifier(cfg Config) *Verifier {
	cfg.Now = func() time.Time { return testNow }
	return NewVerifier(cfg)
}

// validClaims returns claims that pass every check with default config.
func validClaims() map[string]any {
	return map[string]any{
		"sub": "alice",
		"aud": DefaultIdentity,
		"iss": DefaultIdentity,
		"iat": testNow.Unix() - 10,
		"exp": testNow.Unix() + 3600,
	}
}

func makeToken(t *testing.T, alg string, claims map[string]any) string {
	t.Helper()
	token, err := signature.Create(map[string]any{"alg": alg, "typ": "JWT"}, claims, []byte(testSecret))
	require.NoError(t, err)
	return token
}

func verify(v *Verifier, raw, key string) string {
	tok := v.Parse(raw)
	tok.SetKey(key)
	res := tok.Authenticate(context.Background())
	if res.Authenticated {
		return ""
	}
	return res.Message
}

func TestAuthenticate_Valid(t *testing.T) {
	v := newTestVerifier(Config{})
	raw := makeToken(t, "HS256", validClaims())

	tok := v.Parse(raw)
	assert.Equal(t, "alice", tok.Subject())
	assert.Equal(t, "HS256", tok.Algorithm())
	tok.SetKey(testSecret)
	assert.True(t, tok.Authenticate(context.Background()).Authenticated)
}

func TestAuthenticate_MissingClaimsOrdered(t *testing.T) {
	v := newTestVerifier(Config{})
	claims := validClaims()
	delete(claims, "exp")
	delete(claims, "iat")

	assert.Equal(t, "Missing claims: exp, iat.", verify(v, makeToken(t, "HS256", claims), testSecret))

	claims = map[string]any{"exp": testNow.Unix() + 10}
	assert.Equal(t, "Missing claims: aud, iss, sub, iat.", verify(v, makeToken(t, "HS256", claims), testSecret))
}

func TestAuthenticate_MissingClaimsBeatsEverything(t *testing.T) {
	v := newTestVerifier(Config{})
	claims := validClaims()
	delete(claims, "iat")
	claims["exp"] = testNow.Unix() - 100
	claims["aud"] = "someone-else"

	assert.Equal(t, "Missing claims: iat.", verify(v, makeToken(t, "HS256", claims), ""))
}

func TestAuthenticate_ExpiredBeatsAudienceAndIssuer(t *testing.T) {
	v := newTestVerifier(Config{})
	claims := validClaims()
	claims["exp"] = testNow.Unix() - 1
	claims["aud"] = "wrong"
	claims["iss"] = "wrong"

	assert.Equal(t, MsgExpired, verify(v, makeToken(t, "HS256", claims), testSecret))
}

func TestAuthenticate_TimeChecks(t *testing.T) {
	now := testNow.Unix()
	tests := []struct {
		name  string
		grace int64
		edit  func(map[string]any)
		want  string
	}{
		{"nbf in future", 0, func(c map[string]any) { c["nbf"] = now + 5 }, MsgNotYetValid},
		{"nbf now", 0, func(c map[string]any) { c["nbf"] = now }, ""},
		{"nbf within grace", 10, func(c map[string]any) { c["nbf"] = now + 5 }, ""},
		{"iat in future", 0, func(c map[string]any) { c["iat"] = now + 5 }, MsgIssuedInFuture},
		{"iat within grace", 10, func(c map[string]any) { c["iat"] = now + 5 }, ""},
		{"exp now", 0, func(c map[string]any) { c["exp"] = now }, MsgExpired},
		{"exp one second ahead", 0, func(c map[string]any) { c["exp"] = now + 1 }, ""},
		{"exp within grace", 10, func(c map[string]any) { c["exp"] = now - 5 }, ""},
		{"all failing reports nbf first", 0, func(c map[string]any) {
			c["nbf"] = now + 5
			c["iat"] = now + 5
			c["exp"] = now - 5
		}, MsgNotYetValid},
		{"iat and exp failing reports iat", 0, func(c map[string]any) {
			c["iat"] = now + 5
			c["exp"] = now - 5
		}, MsgIssuedInFuture},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVerifier(Config{Grace: tt.grace})
			claims := validClaims()
			tt.edit(claims)
			assert.Equal(t, tt.want, verify(v, makeToken(t, "HS256", claims), testSecret))
		})
	}
}

func TestAuthenticate_AudienceAndIssuer(t *testing.T) {
	v := newTestVerifier(Config{Audiences: []string{"api", "web"}, Issuers: []string{"auth.example"}})

	claims := validClaims()
	claims["aud"] = "web"
	claims["iss"] = "auth.example"
	assert.Equal(t, "", verify(v, makeToken(t, "HS256", claims), testSecret))

	claims["aud"] = []any{"mobile", "api"}
	assert.Equal(t, "", verify(v, makeToken(t, "HS256", claims), testSecret))

	claims["aud"] = "mobile"
	assert.Equal(t, MsgAudienceMismatch, verify(v, makeToken(t, "HS256", claims), testSecret))

	claims["aud"] = "api"
	claims["iss"] = "elsewhere"
	assert.Equal(t, MsgIssuerMismatch, verify(v, makeToken(t, "HS256", claims), testSecret))
}

func TestAuthenticate_AudienceNotRequired(t *testing.T) {
	v := newTestVerifier(Config{Claims: []string{}})
	assert.Equal(t, []string{"sub", "exp", "iat"}, v.Required())

	claims := validClaims()
	delete(claims, "aud")
	claims["iss"] = "anyone"
	assert.Equal(t, "", verify(v, makeToken(t, "HS256", claims), testSecret))
}

func TestAuthenticate_NoKey(t *testing.T) {
	v := newTestVerifier(Config{})
	assert.Equal(t, MsgUserDenied, verify(v, makeToken(t, "HS256", validClaims()), ""))
}

func TestAuthenticate_Signature(t *testing.T) {
	v := newTestVerifier(Config{})

	assert.Equal(t, MsgSignatureInvalid, verify(v, makeToken(t, "HS256", validClaims()), "other-secret"))
	assert.Equal(t, "", verify(v, makeToken(t, "HS512", validClaims()), testSecret))
}

func TestAuthenticate_AsymmetricAlgorithm(t *testing.T) {
	v := newTestVerifier(Config{})
	header := signature.Encoding.EncodeToString([]byte(`{"alg":"RS256"}`))
	payload := signature.Encoding.EncodeToString([]byte(`{"sub":"alice","aud":"gatekeeper","iss":"gatekeeper","iat":1699999990,"exp":1700003600}`))

	msg := verify(v, header+"."+payload+".c2ln", testSecret)
	assert.Equal(t, "Unimplemented cryptographic algorithm: RS256", msg)
}

func TestParse_Malformed(t *testing.T) {
	v := newTestVerifier(Config{})
	for _, raw := range []string{"", "abc", "a.b", "a.b.c.d", "###.###.###"} {
		tok := v.Parse(raw)
		assert.Equal(t, "", tok.Subject(), raw)
		assert.Contains(t, verify(v, raw, testSecret), "Missing claims:", raw)
	}
}

func TestParseGrace(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	assert.Equal(t, int64(0), ParseGrace(nil, logger))
	assert.Equal(t, int64(30), ParseGrace(30, logger))
	assert.Equal(t, int64(30), ParseGrace(int64(30), logger))
	assert.Equal(t, int64(30), ParseGrace(30.0, logger))
	assert.Equal(t, int64(0), ParseGrace(1.5, logger))
	assert.Equal(t, int64(0), ParseGrace("30", logger))
}

func TestIssue(t *testing.T) {
	v := newTestVerifier(Config{})
	raw, err := Issue("HS256", []byte(testSecret), map[string]any{
		"sub": "alice", "aud": DefaultIdentity, "iss": DefaultIdentity,
	}, time.Hour, testNow.Add(-time.Minute))
	require.NoError(t, err)

	assert.Equal(t, "", verify(v, raw, testSecret))

	_, err = Issue("RS256", []byte(testSecret), nil, time.Hour, testNow)
	assert.ErrorIs(t, err, signature.ErrUnimplementedAlgorithm)
}
