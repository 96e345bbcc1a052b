// ABOUTME: Tests for mechanism parsing and Authorization header scheme extraction
// ABOUTME: Covers config aliases, wire scheme names, case folding, and comma-delimited scheme tokens

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMechanism(t *testing.T) {
	tests := []struct {
		in   string
		want Mechanism
	}{
		{"hawk", MechanismHawk},
		{"Hawk", MechanismHawk},
		{" BASIC ", MechanismBasic},
		{"bearer", MechanismBearer},
		{"jwt", MechanismBearer},
	}
	for _, tt := range tests {
		got, err := ParseMechanism(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseMechanism("digest")
	assert.Error(t, err)
}

func TestParseScheme(t *testing.T) {
	for token, want := range map[string]Mechanism{"Hawk": MechanismHawk, "basic": MechanismBasic, "BEARER": MechanismBearer} {
		got, ok := ParseScheme(token)
		assert.True(t, ok, token)
		assert.Equal(t, want, got, token)
	}

	for _, token := range []string{"jwt", "JWT", " Bearer", "Digest", ""} {
		_, ok := ParseScheme(token)
		assert.False(t, ok, "%q is not a wire scheme", token)
	}
}

func TestMechanism_UnmarshalText(t *testing.T) {
	var m Mechanism
	require.NoError(t, m.UnmarshalText([]byte("JWT")))
	assert.Equal(t, MechanismBearer, m)
	assert.Error(t, m.UnmarshalText([]byte("ntlm")))

	text, err := MechanismHawk.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "hawk", string(text))
}

func TestMechanism_KeyName(t *testing.T) {
	assert.Equal(t, "hawk_key", MechanismHawk.KeyName())
	assert.Equal(t, "basic_key", MechanismBasic.KeyName())
	assert.Equal(t, "jwt_key", MechanismBearer.KeyName())
	assert.Equal(t, "", MechanismNone.KeyName())
}

func TestSchemeToken(t *testing.T) {
	tests := []struct {
		header string
		scheme string
		creds  string
	}{
		{`Hawk id="a", ts="1"`, "Hawk", `id="a", ts="1"`},
		{`Hawk, id="a"`, "Hawk", `id="a"`},
		{"Basic dXNlcjpwdw==", "Basic", "dXNlcjpwdw=="},
		{"Bearer", "Bearer", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.scheme, SchemeToken(tt.header), tt.header)
		assert.Equal(t, tt.creds, Credentials(tt.header), tt.header)
	}
}
