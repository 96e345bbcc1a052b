// ABOUTME: Tests Basic authentication delegated to an LDAP directory through config
// ABOUTME: A minimal in-process LDAP listener answers simple bind requests

package gateway

import (
	"context"
	"net"
	"net/http"
	"sync"
	"testing"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/gatekeeper/internal/config"
)

const testBindTemplate = "uid=%s,ou=people,dc=example,dc=com"

// fakeDirectory accepts simple binds for the DN/password pairs in binds and
// records every DN it was asked to bind.
type fakeDirectory struct {
	binds map[string]string

	mu    sync.Mutex
	bound []string
}

func (f *fakeDirectory) boundDNs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bound...)
}

// startFakeDirectory serves LDAP binds on a local port and returns its URL.
func startFakeDirectory(t *testing.T, binds map[string]string) (*fakeDirectory, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	f := &fakeDirectory{binds: binds}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	return f, "ldap://" + ln.Addr().String()
}

func (f *fakeDirectory) serve(conn net.Conn) {
	defer conn.Close()
	for {
		packet, err := ber.ReadPacket(conn)
		if err != nil {
			return
		}
		if len(packet.Children) < 2 {
			return
		}
		msgID, _ := packet.Children[0].Value.(int64)
		op := packet.Children[1]
		if op.Tag != ldap.ApplicationBindRequest || len(op.Children) < 3 {
			return
		}

		dn, _ := op.Children[1].Value.(string)
		password := op.Children[2].Data.String()

		f.mu.Lock()
		f.bound = append(f.bound, dn)
		f.mu.Unlock()

		code := int64(ldap.LDAPResultInvalidCredentials)
		if want, ok := f.binds[dn]; ok && want == password {
			code = int64(ldap.LDAPResultSuccess)
		}

		resp := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAP Response")
		resp.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, msgID, "MessageID"))
		bind := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ldap.ApplicationBindResponse, nil, "Bind Response")
		bind.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, code, "resultCode"))
		bind.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "", "matchedDN"))
		bind.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "", "diagnosticMessage"))
		resp.AppendChild(bind)
		if _, err := conn.Write(resp.Bytes()); err != nil {
			return
		}
	}
}

func TestGateway_BasicDelegatesToDirectory(t *testing.T) {
	dir, url := startFakeDirectory(t, map[string]string{
		"uid=alice,ou=people,dc=example,dc=com": "directory-pass",
		"uid=dana,ou=people,dc=example,dc=com":  "dana-pass",
	})
	gw := setupTestGateway(t, func(c *config.Config) {
		c.Basic.Directory = config.DirectoryConfig{URL: url, BindDNTemplate: testBindTemplate}
	})

	rec := do(gw, http.MethodGet, "/reports", basicHeader("alice", "directory-pass"))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(gw, http.MethodGet, "/reports", basicHeader("alice", testPassword))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "the stored hash is not consulted")

	// dana has no local principal; the directory alone authenticates her and
	// the ACL then denies the unknown role.
	rec = do(gw, http.MethodGet, "/reports", basicHeader("dana", "dana-pass"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, []string{
		"uid=alice,ou=people,dc=example,dc=com",
		"uid=alice,ou=people,dc=example,dc=com",
		"uid=dana,ou=people,dc=example,dc=com",
	}, dir.boundDNs())
}

func TestGateway_DirectoryUnreachable(t *testing.T) {
	gw := setupTestGateway(t, func(c *config.Config) {
		c.Basic.Directory = config.DirectoryConfig{URL: "ldap://" + freeAddr(t), BindDNTemplate: testBindTemplate}
	})

	rec := do(gw, http.MethodGet, "/reports", basicHeader("alice", testPassword))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestNew_InvalidDirectoryTemplate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Basic.Directory = config.DirectoryConfig{URL: "ldap://127.0.0.1:389", BindDNTemplate: "uid=alice"}

	_, err := New(context.Background(), cfg, testLogger())
	assert.ErrorContains(t, err, "basic directory")
}
