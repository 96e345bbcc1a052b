// ABOUTME: Tests for authentication results and message disclosure
// ABOUTME: Covers generic vs detailed client messages

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResult_ClientMessage(t *testing.T) {
	tests := []struct {
		name     string
		result   Result
		disclose bool
		want     string
	}{
		{"success has no message", Success(), true, ""},
		{"failure hidden", Failure("Duplicate nonce."), false, GenericFailure},
		{"failure disclosed", Failure("Duplicate nonce."), true, "Duplicate nonce."},
		{"empty message disclosed falls back", Failure(""), true, GenericFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.ClientMessage(tt.disclose))
		})
	}
}
