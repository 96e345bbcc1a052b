// ABOUTME: Tests for compact token signing and validation
// ABOUTME: Covers HMAC families, unsupported algorithms, and tampered tokens

package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("signature-test-secret")

func TestCreateSignature_HS256MatchesHMAC(t *testing.T) {
	input := "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJ1c2VyIn0"

	got, err := CreateSignature("HS256", input, testSecret)
	require.NoError(t, err)

	mac := hmac.New(sha256.New, testSecret)
	mac.Write([]byte(input))
	assert.Equal(t, Encoding.EncodeToString(mac.Sum(nil)), got)
	assert.NotContains(t, got, "=")
}

func TestCreateSignature_Algorithms(t *testing.T) {
	tests := []struct {
		alg     string
		wantErr error
	}{
		{"HS256", nil},
		{"HS384", nil},
		{"HS512", nil},
		{"RS256", ErrUnimplementedAlgorithm},
		{"PS512", ErrUnimplementedAlgorithm},
		{"ES256", ErrUnknownAlgorithm},
		{"HS", ErrUnknownAlgorithm},
		{"HSabc", ErrUnknownAlgorithm},
		{"HS999", ErrUnknownAlgorithm},
		{"none", ErrUnknownAlgorithm},
	}

	for _, tt := range tests {
		t.Run(tt.alg, func(t *testing.T) {
			_, err := CreateSignature(tt.alg, "a.b", testSecret)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), tt.alg)
		})
	}
}

func TestCreateAndValidate(t *testing.T) {
	token, err := Create(
		map[string]any{"alg": "HS256", "typ": "JWT"},
		map[string]any{"sub": "alice", "exp": 2000000000},
		testSecret,
	)
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	ok, err := Validate(token, testSecret)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Validate(token, []byte("wrong-secret"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidate_TamperedPayload(t *testing.T) {
	token, err := Create(map[string]any{"alg": "HS256"}, map[string]any{"sub": "alice"}, testSecret)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	forged := Encoding.EncodeToString([]byte(`{"sub":"mallory"}`))
	ok, err := Validate(parts[0]+"."+forged+"."+parts[2], testSecret)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidate_Malformed(t *testing.T) {
	for _, token := range []string{"", "a.b", "a.b.c.d", "!!!.???.sig"} {
		ok, err := Validate(token, testSecret)
		assert.NoError(t, err, token)
		assert.False(t, ok, token)
	}
}

func TestValidate_AsymmetricAlgorithm(t *testing.T) {
	header := Encoding.EncodeToString([]byte(`{"alg":"RS256"}`))
	payload := Encoding.EncodeToString([]byte(`{"sub":"alice"}`))

	ok, err := Validate(header+"."+payload+".sig", testSecret)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnimplementedAlgorithm)
}

func TestCreate_MissingAlgorithm(t *testing.T) {
	_, err := Create(map[string]any{"typ": "JWT"}, map[string]any{}, testSecret)
	assert.ErrorIs(t, err, ErrMissingAlgorithm)
}
