// ABOUTME: Parses Hawk Authorization header attributes
// ABOUTME: Splits on commas and equals signs outside quotes and tracks which attributes were sent

package hawk

import (
	"strings"

	"github.com/2389/gatekeeper/internal/auth"
)

// Attribute names understood in a Hawk header.
const (
	ParamID    = "id"
	ParamTS    = "ts"
	ParamNonce = "nonce"
	ParamMAC   = "mac"
	ParamHash  = "hash"
	ParamExt   = "ext"
	ParamAlg   = "alg"
)

// Params holds the attributes of a Hawk Authorization header. Absent
// attributes read as empty strings; Has distinguishes absent from empty.
type Params struct {
	ID    string
	TS    string
	Nonce string
	MAC   string
	Hash  string
	Ext   string
	Alg   string

	present map[string]bool
	extra   map[string]string
}

// Has reports whether the client sent the named attribute.
func (p Params) Has(name string) bool {
	return p.present[name]
}

// Get returns the named attribute and whether it was sent. Unknown attribute
// names are looked up among the extra attributes.
func (p Params) Get(name string) (string, bool) {
	switch name {
	case ParamID:
		return p.ID, p.Has(name)
	case ParamTS:
		return p.TS, p.Has(name)
	case ParamNonce:
		return p.Nonce, p.Has(name)
	case ParamMAC:
		return p.MAC, p.Has(name)
	case ParamHash:
		return p.Hash, p.Has(name)
	case ParamExt:
		return p.Ext, p.Has(name)
	case ParamAlg:
		return p.Alg, p.Has(name)
	}
	v, ok := p.extra[name]
	return v, ok
}

// ParseHeader parses an Authorization header value. The "Hawk" scheme token
// is stripped if present. Malformed pieces are skipped rather than rejected;
// the MAC check fails for anything that was not signed as sent.
func ParseHeader(header string) Params {
	if strings.EqualFold(auth.SchemeToken(header), "hawk") {
		header = auth.Credentials(header)
	}

	p := Params{present: make(map[string]bool)}
	for _, field := range splitOutsideQuotes(header, ',') {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		name, value, ok := cutOutsideQuotes(field, '=')
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = unquote(strings.TrimSpace(value))

		switch name {
		case ParamID:
			p.ID = value
		case ParamTS:
			p.TS = value
		case ParamNonce:
			p.Nonce = value
		case ParamMAC:
			p.MAC = value
		case ParamHash:
			p.Hash = value
		case ParamExt:
			p.Ext = value
		case ParamAlg:
			p.Alg = value
		default:
			if p.extra == nil {
				p.extra = make(map[string]string)
			}
			p.extra[name] = value
		}
		p.present[name] = true
	}
	return p
}

// extAlgorithm returns the value of an "alg=<name>" token embedded in ext.
func extAlgorithm(ext string) (string, bool) {
	for _, token := range strings.FieldsFunc(ext, func(r rune) bool {
		return r == ';' || r == ',' || r == '&' || r == ' '
	}) {
		if name, value, ok := strings.Cut(token, "="); ok && strings.TrimSpace(name) == "alg" {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}

func splitOutsideQuotes(s string, sep byte) []string {
	var parts []string
	inQuotes := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case sep:
			if !inQuotes {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

func cutOutsideQuotes(s string, sep byte) (string, string, bool) {
	inQuotes := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case sep:
			if !inQuotes {
				return s[:i], s[i+1:], true
			}
		}
	}
	return s, "", false
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return strings.Trim(s, `"`)
}
