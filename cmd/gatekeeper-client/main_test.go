// ABOUTME: Tests for gatekeeper-client against a real dispatcher behind httptest
// ABOUTME: Covers Hawk signing with response verification, Basic, Bearer and option validation

package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/gatekeeper/internal/auth"
	"github.com/2389/gatekeeper/internal/basic"
	"github.com/2389/gatekeeper/internal/cache"
	"github.com/2389/gatekeeper/internal/dispatch"
	"github.com/2389/gatekeeper/internal/hawk"
	"github.com/2389/gatekeeper/internal/jwtauth"
	"github.com/2389/gatekeeper/internal/nonce"
	"github.com/2389/gatekeeper/internal/users"
)

const testKey = "werxhqb98rpaxn39848xrunpaw3489ruxnpa98w4rxn"

// setupTestServer serves an echo handler behind a dispatcher accepting
// Hawk (with signed responses) and Bearer.
func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mem := cache.NewMemory(time.Minute, 0)
	t.Cleanup(func() { mem.Close() })

	hv, err := hawk.NewVerifier(hawk.Config{Nonces: nonce.NewCacheStore(mem, "test", time.Minute)})
	require.NoError(t, err)

	d, err := dispatch.New(dispatch.Config{
		Mechanisms:    []auth.Mechanism{auth.MechanismHawk, auth.MechanismBearer},
		Hawk:          hv,
		SignResponses: true,
		JWT:           jwtauth.NewVerifier(jwtauth.Config{}),
		Principals:    users.NewRegistry(users.ConfigSource{Users: map[string]string{"dh37fgj492je": testKey}}, nil, ""),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(d.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello " + auth.FromContext(r.Context()).PrincipalID + " " + string(body)))
	})))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_HawkWithSignedResponse(t *testing.T) {
	srv := setupTestServer(t)
	var out, errOut bytes.Buffer

	err := run(context.Background(), []string{
		"-hawk", "-id", "dh37fgj492je", "-key", testKey,
		"-method", "post", "-data", "payload", "-verbose",
		srv.URL + "/resource?x=1",
	}, &out, &errOut)
	require.NoError(t, err, errOut.String())
	assert.Equal(t, "hello dh37fgj492je payload", out.String())
	assert.Contains(t, errOut.String(), "server signature verified")
}

func TestRun_HawkWrongKey(t *testing.T) {
	srv := setupTestServer(t)
	var out, errOut bytes.Buffer

	err := run(context.Background(), []string{"-hawk", "-id", "dh37fgj492je", "-key", "wrong", srv.URL}, &out, &errOut)
	assert.ErrorContains(t, err, "status 401")
}

func TestRun_Bearer(t *testing.T) {
	srv := setupTestServer(t)
	token, err := jwtauth.Issue("HS256", []byte(testKey), map[string]any{
		"sub": "dh37fgj492je",
		"aud": jwtauth.DefaultIdentity,
		"iss": jwtauth.DefaultIdentity,
	}, time.Minute, time.Now())
	require.NoError(t, err)

	var out, errOut bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-bearer", token, srv.URL}, &out, &errOut))
	assert.Equal(t, "hello dh37fgj492je ", out.String())
}

func TestRun_BasicRejectedScheme(t *testing.T) {
	srv := setupTestServer(t)
	var out, errOut bytes.Buffer

	err := run(context.Background(), []string{"-basic", "-id", "u", "-key", "p", srv.URL}, &out, &errOut)
	assert.ErrorContains(t, err, "status 401")
	assert.Contains(t, out.String(), "Illegal authentication mechanism: Basic")
}

func TestBuildRequest_Basic(t *testing.T) {
	o := &options{basic: true, id: "alice", key: "pw", method: http.MethodGet, url: "http://example.com/"}
	req, artifacts, err := buildRequest(context.Background(), o)
	require.NoError(t, err)
	assert.Nil(t, artifacts)

	creds := basic.NewVerifier(basic.Config{}).Parse(req.Header.Get("Authorization"))
	assert.Equal(t, "alice", creds.User())
}

func TestParseOptions_Validation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no url", []string{"-hawk", "-id", "a", "-key", "b"}},
		{"two mechanisms", []string{"-hawk", "-basic", "-id", "a", "-key", "b", "http://x"}},
		{"hawk without key", []string{"-hawk", "-id", "a", "http://x"}},
		{"bad algorithm", []string{"-hawk", "-id", "a", "-key", "b", "-alg", "md5", "http://x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseOptions(tt.args, io.Discard)
			assert.Error(t, err)
		})
	}
}
