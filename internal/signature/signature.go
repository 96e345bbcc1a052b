// ABOUTME: Compact JWT signing and verification over HMAC-SHA algorithms
// ABOUTME: Asymmetric families are recognised but explicitly unimplemented

package signature

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnknownAlgorithm is returned for algorithm names outside the JWT families.
	ErrUnknownAlgorithm = errors.New("Unknown cryptographic algorithm")

	// ErrUnimplementedAlgorithm is returned for RS and PS algorithms.
	ErrUnimplementedAlgorithm = errors.New("Unimplemented cryptographic algorithm")

	// ErrMissingAlgorithm is returned by Create when the header has no alg.
	ErrMissingAlgorithm = errors.New("'alg' not set in header")
)

// Encoding is the unpadded base64url alphabet used by every token segment.
var Encoding = base64.RawURLEncoding

// supportedBits lists the SHA digest sizes a family suffix may name.
var supportedBits = map[int]bool{1: true, 224: true, 256: true, 384: true, 512: true}

// CreateSignature signs signingInput with secret using a JWT algorithm name
// such as "HS256" and returns the base64url encoded signature.
func CreateSignature(algorithm, signingInput string, secret []byte) (string, error) {
	if len(algorithm) < 3 {
		return "", fmt.Errorf("%w: %s", ErrUnknownAlgorithm, algorithm)
	}
	family, suffix := algorithm[:2], algorithm[2:]
	bits, err := strconv.Atoi(suffix)
	if err != nil || bits <= 0 || !supportedBits[bits] || strings.TrimLeft(suffix, "0123456789") != "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownAlgorithm, algorithm)
	}

	switch family {
	case "HS":
		method := jwt.GetSigningMethod(algorithm)
		if method == nil {
			// HS1 and HS224 are valid digests but not registered JWT methods.
			return "", fmt.Errorf("%w: %s", ErrUnknownAlgorithm, algorithm)
		}
		sig, err := method.Sign(signingInput, secret)
		if err != nil {
			return "", fmt.Errorf("signing with %s: %w", algorithm, err)
		}
		return Encoding.EncodeToString(sig), nil
	case "RS", "PS":
		return "", fmt.Errorf("%w: %s", ErrUnimplementedAlgorithm, algorithm)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownAlgorithm, algorithm)
	}
}

// Create builds a compact token from header and payload. The header must
// carry an "alg" entry naming the signing algorithm.
func Create(header, payload map[string]any, secret []byte) (string, error) {
	alg, _ := header["alg"].(string)
	if alg == "" {
		return "", ErrMissingAlgorithm
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("encoding header: %w", err)
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}

	signingInput := Encoding.EncodeToString(headerJSON) + "." + Encoding.EncodeToString(payloadJSON)
	sig, err := CreateSignature(alg, signingInput, secret)
	if err != nil {
		return "", err
	}
	return signingInput + "." + sig, nil
}

// Validate recomputes the signature of a compact token and compares it with
// the token's third segment. Structural problems yield false without error;
// algorithm problems are returned as errors.
func Validate(token string, secret []byte) (bool, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false, nil
	}

	header, err := decodeSegment(parts[0])
	if err != nil {
		return false, nil
	}
	if _, err := decodeSegment(parts[1]); err != nil {
		return false, nil
	}

	alg, _ := header["alg"].(string)
	created, err := CreateSignature(strings.ToUpper(alg), parts[0]+"."+parts[1], secret)
	if err != nil {
		return false, err
	}
	return created == parts[2], nil
}

// DecodeSegment base64url-decodes and JSON-parses one token segment.
func DecodeSegment(segment string) (map[string]any, error) {
	return decodeSegment(segment)
}

func decodeSegment(segment string) (map[string]any, error) {
	raw, err := Encoding.DecodeString(strings.TrimRight(segment, "="))
	if err != nil {
		return nil, fmt.Errorf("decoding segment: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parsing segment: %w", err)
	}
	if out == nil {
		return nil, errors.New("parsing segment: empty object")
	}
	return out, nil
}
