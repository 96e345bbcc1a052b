// ABOUTME: HTTP Basic authentication against stored password hashes
// ABOUTME: Optionally delegates the check to an external directory instead

package basic

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/gatekeeper/internal/auth"
)

// Failure messages returned in auth.Result.
const (
	MsgUserDenied  = "User denied."
	MsgNotVerified = "Password did not verify."
)

// DefaultRealm is used in challenges when no realm is configured.
const DefaultRealm = "gatekeeper"

// Directory checks credentials against an external directory service, for
// example by binding as the user.
type Directory interface {
	Bind(ctx context.Context, user, password string) (bool, error)
}

// Config configures a Verifier.
type Config struct {
	Realm string
	// Directory, when set, replaces local hash verification.
	Directory Directory
	Logger    *slog.Logger
}

// Verifier authenticates Basic credentials. It is safe for concurrent use.
type Verifier struct {
	realm     string
	directory Directory
	logger    *slog.Logger
}

// NewVerifier returns a Verifier for cfg.
func NewVerifier(cfg Config) *Verifier {
	if cfg.Realm == "" {
		cfg.Realm = DefaultRealm
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Verifier{
		realm:     cfg.Realm,
		directory: cfg.Directory,
		logger:    cfg.Logger.With("component", "basic"),
	}
}

// Challenge returns the WWW-Authenticate value sent with a failed attempt.
func (v *Verifier) Challenge() string {
	return fmt.Sprintf(`Basic realm="%s"`, v.realm)
}

// UsesDirectory reports whether credentials are checked by a Directory.
func (v *Verifier) UsesDirectory() bool {
	return v.directory != nil
}

// Parse decodes an Authorization header value. The "Basic" scheme token is
// stripped if present. Undecodable input yields empty credentials.
func (v *Verifier) Parse(header string) *Credentials {
	if strings.EqualFold(auth.SchemeToken(header), "basic") {
		header = auth.Credentials(header)
	}
	c := &Credentials{v: v}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		v.logger.Debug("credentials failed to decode", "error", err)
		return c
	}
	c.user, c.password, _ = strings.Cut(string(decoded), ":")
	return c
}

// Credentials is one request's user and password.
type Credentials struct {
	v        *Verifier
	user     string
	password string
	hash     string
}

// User returns the user part of the credentials.
func (c *Credentials) User() string {
	return c.user
}

// SetKey sets the stored password hash of the principal named by User.
func (c *Credentials) SetKey(hash string) {
	c.hash = hash
}

// Authenticate checks the password. An error means the hash or the
// directory could not be used.
func (c *Credentials) Authenticate(ctx context.Context) (auth.Result, error) {
	logger := c.v.logger.With("user", c.user)

	if c.password == "" {
		logger.Debug("empty password")
		return auth.Failure(MsgUserDenied), nil
	}

	var (
		ok  bool
		err error
	)
	if c.v.directory != nil {
		ok, err = c.v.directory.Bind(ctx, c.user, c.password)
		if err != nil {
			return auth.Result{}, fmt.Errorf("directory bind: %w", err)
		}
	} else {
		if c.hash == "" {
			logger.Debug("no hashed key set for principal")
			return auth.Failure(MsgUserDenied), nil
		}
		ok, err = VerifyPassword(c.password, c.hash)
		if err != nil {
			return auth.Result{}, err
		}
	}

	if !ok {
		logger.Debug("password did not verify")
		return auth.Failure(MsgNotVerified), nil
	}
	logger.Debug("authenticated")
	return auth.Success(), nil
}
