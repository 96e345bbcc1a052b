// ABOUTME: Closed set of authentication mechanisms selected at config load
// ABOUTME: Parses scheme tokens from Authorization headers case-insensitively

package auth

import (
	"fmt"
	"strings"
)

// Mechanism identifies an authentication scheme.
type Mechanism int

const (
	MechanismNone Mechanism = iota
	MechanismHawk
	MechanismBasic
	MechanismBearer
)

// ParseMechanism maps a configured mechanism name to a Mechanism.
// "jwt" is accepted as a config alias for bearer tokens.
func ParseMechanism(name string) (Mechanism, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "hawk":
		return MechanismHawk, nil
	case "basic":
		return MechanismBasic, nil
	case "bearer", "jwt":
		return MechanismBearer, nil
	default:
		return MechanismNone, fmt.Errorf("unknown authentication mechanism: %q", name)
	}
}

// ParseScheme maps an Authorization scheme token to a Mechanism. Only the
// wire names Hawk, Basic and Bearer are recognised, in any case.
func ParseScheme(token string) (Mechanism, bool) {
	switch strings.ToLower(token) {
	case "hawk":
		return MechanismHawk, true
	case "basic":
		return MechanismBasic, true
	case "bearer":
		return MechanismBearer, true
	default:
		return MechanismNone, false
	}
}

// String returns the scheme name as it appears on the wire.
func (m Mechanism) String() string {
	switch m {
	case MechanismHawk:
		return "Hawk"
	case MechanismBasic:
		return "Basic"
	case MechanismBearer:
		return "Bearer"
	default:
		return "None"
	}
}

// KeyName returns the mechanism-specific principal key field, e.g. "hawk_key".
func (m Mechanism) KeyName() string {
	switch m {
	case MechanismHawk:
		return "hawk_key"
	case MechanismBasic:
		return "basic_key"
	case MechanismBearer:
		return "jwt_key"
	default:
		return ""
	}
}

// UnmarshalText lets Mechanism be used directly in YAML and TOML config.
func (m *Mechanism) UnmarshalText(text []byte) error {
	parsed, err := ParseMechanism(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalText returns the lower-case config form.
func (m Mechanism) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(m.String())), nil
}

// SchemeToken returns the first whitespace or comma delimited word of an
// Authorization header value.
func SchemeToken(header string) string {
	header = strings.TrimLeft(header, " \t")
	if i := strings.IndexAny(header, " \t,"); i >= 0 {
		return header[:i]
	}
	return header
}

// Credentials strips the scheme token and any separator from an Authorization
// header value, returning what follows it.
func Credentials(header string) string {
	scheme := SchemeToken(header)
	rest := strings.TrimLeft(header, " \t")[len(scheme):]
	return strings.TrimLeft(rest, " \t,")
}
