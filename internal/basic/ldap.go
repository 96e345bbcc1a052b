// ABOUTME: LDAP bind Directory: a password verifies when binding as the user succeeds
// ABOUTME: The bind DN comes from a template with the escaped user name substituted

package basic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// DefaultLDAPTimeout bounds dialing and each LDAP operation.
const DefaultLDAPTimeout = 10 * time.Second

// LDAPConfig configures an LDAPDirectory.
type LDAPConfig struct {
	// URL of the directory, ldap:// or ldaps://.
	URL string
	// BindDNTemplate contains one %s replaced by the user name,
	// e.g. "uid=%s,ou=people,dc=example,dc=com".
	BindDNTemplate string
	// StartTLS upgrades an ldap:// connection before binding.
	StartTLS           bool
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// ldapSession is the part of *ldap.Conn used for a bind check.
type ldapSession interface {
	StartTLS(config *tls.Config) error
	Bind(dn, password string) error
	Close()
}

type ldapConn struct {
	conn *ldap.Conn
}

func (c ldapConn) StartTLS(config *tls.Config) error { return c.conn.StartTLS(config) }
func (c ldapConn) Bind(dn, password string) error    { return c.conn.Bind(dn, password) }
func (c ldapConn) Close()                            { c.conn.Close() }

// LDAPDirectory checks credentials by binding to an LDAP server as the user.
// Each check uses its own connection.
type LDAPDirectory struct {
	cfg  LDAPConfig
	dial func(ctx context.Context) (ldapSession, error)
}

// NewLDAPDirectory validates cfg and returns a Directory.
func NewLDAPDirectory(cfg LDAPConfig) (*LDAPDirectory, error) {
	if cfg.URL == "" {
		return nil, errors.New("ldap url is required")
	}
	if strings.Count(cfg.BindDNTemplate, "%s") != 1 {
		return nil, fmt.Errorf("ldap bind dn template must contain exactly one %%s: %q", cfg.BindDNTemplate)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultLDAPTimeout
	}

	d := &LDAPDirectory{cfg: cfg}
	d.dial = d.dialURL
	return d, nil
}

func (d *LDAPDirectory) dialURL(ctx context.Context) (ldapSession, error) {
	dialer := &net.Dialer{Timeout: d.cfg.Timeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	conn, err := ldap.DialURL(d.cfg.URL, ldap.DialWithDialer(dialer))
	if err != nil {
		return nil, err
	}
	conn.SetTimeout(d.cfg.Timeout)
	return ldapConn{conn: conn}, nil
}

// BindDN returns the DN used to bind as user.
func (d *LDAPDirectory) BindDN(user string) string {
	return fmt.Sprintf(d.cfg.BindDNTemplate, ldap.EscapeDN(user))
}

// Bind reports whether user and password bind successfully. Rejected
// credentials are not an error; an unreachable directory is.
func (d *LDAPDirectory) Bind(ctx context.Context, user, password string) (bool, error) {
	if user == "" || password == "" {
		return false, nil
	}

	session, err := d.dial(ctx)
	if err != nil {
		return false, fmt.Errorf("connecting to ldap: %w", err)
	}
	defer session.Close()

	if d.cfg.StartTLS {
		host := ""
		if i := strings.Index(d.cfg.URL, "://"); i >= 0 {
			host, _, _ = strings.Cut(d.cfg.URL[i+3:], "/")
			if h, _, err := net.SplitHostPort(host); err == nil {
				host = h
			}
		}
		err := session.StartTLS(&tls.Config{
			ServerName:         host,
			InsecureSkipVerify: d.cfg.InsecureSkipVerify,
		})
		if err != nil {
			return false, fmt.Errorf("ldap starttls: %w", err)
		}
	}

	err = session.Bind(d.BindDN(user), password)
	switch {
	case err == nil:
		return true, nil
	case ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials),
		ldap.IsErrorWithCode(err, ldap.LDAPResultInappropriateAuthentication),
		ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidDNSyntax):
		return false, nil
	default:
		return false, fmt.Errorf("ldap bind: %w", err)
	}
}
