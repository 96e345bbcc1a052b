// ABOUTME: Canonical Hawk strings, payload hashes, and MACs
// ABOUTME: Supports the md5 and sha families by name

package hawk

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strings"
)

// ErrUnknownAlgorithm is returned for digest names outside the supported set.
var ErrUnknownAlgorithm = errors.New("unknown hawk algorithm")

var algorithms = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha224": sha256.New224,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}

// Supported reports whether alg names a digest this package implements.
func Supported(alg string) bool {
	_, ok := algorithms[alg]
	return ok
}

func newHash(alg string) (func() hash.Hash, error) {
	h, ok := algorithms[alg]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
	}
	return h, nil
}

// PayloadHash returns base64(digest("hawk.1.payload\n" + contentType + "\n" + body + "\n")).
func PayloadHash(alg, contentType string, body []byte) (string, error) {
	h, err := newHash(alg)
	if err != nil {
		return "", err
	}
	d := h()
	d.Write([]byte("hawk.1.payload\n" + contentType + "\n"))
	d.Write(body)
	d.Write([]byte("\n"))
	return base64.StdEncoding.EncodeToString(d.Sum(nil)), nil
}

// Artifacts are the values covered by a Hawk MAC.
type Artifacts struct {
	TS     string
	Nonce  string
	Method string
	URI    string
	Host   string
	Port   string
	Hash   string
	Ext    string
}

// NormalizedString builds the canonical header string signed by both sides.
func (a Artifacts) NormalizedString() string {
	var b strings.Builder
	b.WriteString("hawk.1.header\n")
	for _, v := range []string{a.TS, a.Nonce, a.Method, a.URI, a.Host, a.Port, a.Hash, a.Ext} {
		b.WriteString(v)
		b.WriteByte('\n')
	}
	return b.String()
}

// MAC returns base64(HMAC(alg, key, a.NormalizedString())).
func (a Artifacts) MAC(alg string, key []byte) (string, error) {
	h, err := newHash(alg)
	if err != nil {
		return "", err
	}
	m := hmac.New(h, key)
	m.Write([]byte(a.NormalizedString()))
	return base64.StdEncoding.EncodeToString(m.Sum(nil)), nil
}

// equalMAC compares two base64 MACs without leaking timing.
func equalMAC(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
