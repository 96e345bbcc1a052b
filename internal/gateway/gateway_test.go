// ABOUTME: Tests for the Gateway orchestrator wiring config into HTTP and gRPC servers
// ABOUTME: Exercises authentication, ACL routing, metrics, readiness and graceful shutdown

package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/gatekeeper/internal/acl"
	"github.com/2389/gatekeeper/internal/auth"
	"github.com/2389/gatekeeper/internal/basic"
	"github.com/2389/gatekeeper/internal/config"
	"github.com/2389/gatekeeper/internal/jwtauth"
	"github.com/2389/gatekeeper/internal/nonce"
	"github.com/2389/gatekeeper/internal/users"
)

const (
	testPassword  = "correct horse"
	testJWTSecret = "svc-secret"
)

// freeAddr returns a loopback address that was free a moment ago.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig writes principal and ACL files and returns a config that
// accepts Basic and Bearer.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	hash, err := basic.HashPassword(testPassword, bcrypt.MinCost)
	require.NoError(t, err)

	usersDir := t.TempDir()
	writeFile(t, usersDir, "app.users", "# id,key\nalice,"+hash+"\nsvc,"+testJWTSecret+"\n")

	aclDir := t.TempDir()
	writeFile(t, aclDir, "app.roles", "alice\nsvc\n")
	writeFile(t, aclDir, "app.resources", "reports,Reports,read;write\n")
	writeFile(t, aclDir, "app.rules", "alice,reports,read,allow\nsvc,reports,*,allow\n")

	return &config.Config{
		Server: config.ServerConfig{
			HTTPAddr:        "127.0.0.1:0",
			ErrorFormat:     "text",
			ShutdownTimeout: 5 * time.Second,
		},
		Auth: config.AuthConfig{Mechanisms: []auth.Mechanism{auth.MechanismBasic, auth.MechanismBearer}},
		Users: config.UsersConfig{
			Backend: users.BackendFile,
			Dir:     usersDir,
		},
		ACL: config.ACLConfig{
			Enable:        true,
			Backend:       acl.BackendFile,
			DefaultPolicy: acl.Deny,
			Dir:           aclDir,
		},
		Cache:   config.CacheConfig{Backend: config.CacheMemory, Prefix: "test", TTL: time.Minute},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Routes: []config.RouteConfig{
			{Method: http.MethodGet, Path: "/reports", Controller: "reports", Action: "read"},
			{Method: http.MethodPost, Path: "/reports", Controller: "reports", Action: "write"},
		},
	}
}

func setupTestGateway(t *testing.T, mutate func(*config.Config)) *Gateway {
	t.Helper()
	cfg := testConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	gw, err := New(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw
}

func basicHeader(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

func bearerHeader(t *testing.T, sub string) string {
	t.Helper()
	token, err := jwtauth.Issue("HS256", []byte(testJWTSecret), map[string]any{
		"sub": sub,
		"aud": jwtauth.DefaultIdentity,
		"iss": jwtauth.DefaultIdentity,
	}, time.Minute, time.Now())
	require.NoError(t, err)
	return "Bearer " + token
}

func do(gw *Gateway, method, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec
}

func TestGateway_HealthWithoutAuth(t *testing.T) {
	gw := setupTestGateway(t, nil)

	rec := do(gw, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = do(gw, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", rec.Body.String())
}

func TestGateway_ReadyFailsWhenUsersUnreadable(t *testing.T) {
	gw := setupTestGateway(t, func(c *config.Config) {
		writeFile(t, c.Users.Dir, "broken.users", "alice,key,extra\n")
	})

	rec := do(gw, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGateway_MissingCredentials(t *testing.T) {
	gw := setupTestGateway(t, nil)

	rec := do(gw, http.MethodGet, "/reports", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Basic, Bearer", rec.Header().Get("WWW-Authenticate"))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestGateway_BasicAllowedByACL(t *testing.T) {
	gw := setupTestGateway(t, nil)

	rec := do(gw, http.MethodGet, "/reports", basicHeader("alice", testPassword))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body resourceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "alice", body.Principal)
	assert.Equal(t, "Basic", body.Mechanism)
	assert.Equal(t, "reports", body.Controller)
	assert.Equal(t, "read", body.Action)
	assert.Equal(t, rec.Header().Get(RequestIDHeader), body.RequestID)
}

func TestGateway_ACLDenied(t *testing.T) {
	gw := setupTestGateway(t, nil)

	rec := do(gw, http.MethodPost, "/reports", basicHeader("alice", testPassword))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Access denied.")
}

func TestGateway_BearerWildcardRule(t *testing.T) {
	gw := setupTestGateway(t, nil)

	rec := do(gw, http.MethodPost, "/reports", bearerHeader(t, "svc"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"mechanism":"Bearer"`)
}

func TestGateway_WrongPassword(t *testing.T) {
	gw := setupTestGateway(t, nil)

	rec := do(gw, http.MethodGet, "/reports", basicHeader("alice", "wrong"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Basic realm="gatekeeper"`, rec.Header().Get("WWW-Authenticate"))
}

func TestGateway_UnknownRoute(t *testing.T) {
	gw := setupTestGateway(t, nil)

	rec := do(gw, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "authentication runs before routing")

	rec = do(gw, http.MethodGet, "/nowhere", basicHeader("alice", testPassword))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Resource not found.")
}

func TestGateway_JSONErrors(t *testing.T) {
	gw := setupTestGateway(t, func(c *config.Config) { c.Server.ErrorFormat = "json" })

	rec := do(gw, http.MethodPost, "/reports", basicHeader("alice", testPassword))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Access denied."}`, rec.Body.String())
}

func TestGateway_MetricsEndpoint(t *testing.T) {
	gw := setupTestGateway(t, nil)

	do(gw, http.MethodGet, "/reports", basicHeader("alice", testPassword))
	do(gw, http.MethodPost, "/reports", basicHeader("alice", testPassword))

	rec := do(gw, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `gatekeeper_auth_attempts_total{mechanism="basic",result="success"} 2`)
	assert.Contains(t, body, `gatekeeper_acl_decisions_total{decision="deny"} 1`)
}

func TestGateway_MetricsDisabled(t *testing.T) {
	gw := setupTestGateway(t, func(c *config.Config) { c.Metrics.Enabled = false })

	rec := do(gw, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGateway_ACLDisabledAdmitsAuthenticated(t *testing.T) {
	gw := setupTestGateway(t, func(c *config.Config) { c.ACL.Enable = false })

	rec := do(gw, http.MethodPost, "/reports", basicHeader("alice", testPassword))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGateway_RouteWithoutMethodMatchesAll(t *testing.T) {
	gw := setupTestGateway(t, func(c *config.Config) {
		c.Routes = []config.RouteConfig{{Path: "/any", Controller: "reports", Action: "read"}}
	})

	for _, method := range []string{http.MethodGet, http.MethodPut} {
		rec := do(gw, method, "/any", basicHeader("alice", testPassword))
		assert.Equal(t, http.StatusOK, rec.Code, method)
	}
}

func TestNew_InvalidBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.ACL.Dir = ""

	_, err := New(context.Background(), cfg, testLogger())
	assert.Error(t, err)
}

func TestComponents_Invalidate(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	c, err := OpenComponents(ctx, cfg, testLogger())
	require.NoError(t, err)
	defer c.Close()
	assert.True(t, c.CacheEnabled())

	allowed, err := c.ACL.IsAllowed(ctx, "alice", "reports", "write")
	require.NoError(t, err)
	assert.False(t, allowed)

	writeFile(t, cfg.ACL.Dir, "app.rules", "alice,reports,*,allow\n")
	allowed, err = c.ACL.IsAllowed(ctx, "alice", "reports", "write")
	require.NoError(t, err)
	assert.False(t, allowed, "compiled table is reused until invalidated")

	require.NoError(t, c.Invalidate(ctx))
	allowed, err = c.ACL.IsAllowed(ctx, "alice", "reports", "write")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestComponents_NoCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache = config.CacheConfig{}

	c, err := OpenComponents(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer c.Close()
	assert.False(t, c.CacheEnabled())
}

func TestComponents_BoundedCacheKeepsNoncesSeparate(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Cache.MaxEntries = 2
	cfg.Hawk.Expire = time.Minute

	c, err := OpenComponents(ctx, cfg, testLogger())
	require.NoError(t, err)
	defer c.Close()
	require.NotSame(t, c.Cache, c.Nonces)

	nonces, err := nonce.Open(ctx, nonce.Options{Backend: nonce.BackendCache, Expire: time.Minute, Prefix: "test"}, nil, c.Nonces)
	require.NoError(t, err)
	require.NoError(t, nonces.Record(ctx, "seen"))

	for i := range 10 {
		require.NoError(t, c.Cache.Set(ctx, fmt.Sprintf("filler-%d", i), []byte("x"), 0))
		require.NoError(t, nonces.Record(ctx, fmt.Sprintf("flood-%d", i)))
	}

	seen, err := nonces.Exists(ctx, "seen")
	require.NoError(t, err)
	assert.True(t, seen, "a nonce inside the window is never evicted")
}

func TestComponents_UnboundedCacheSharedWithNonces(t *testing.T) {
	c, err := OpenComponents(context.Background(), testConfig(t), testLogger())
	require.NoError(t, err)
	defer c.Close()
	assert.Same(t, c.Cache, c.Nonces)
}

func TestComponents_LevelDBCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache = config.CacheConfig{Backend: config.CacheLevelDB, Path: filepath.Join(t.TempDir(), "cache"), Prefix: "test"}

	c, err := OpenComponents(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestGateway_RunAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.HTTPAddr = freeAddr(t)
	cfg.Server.GRPCAddr = freeAddr(t)

	gw, err := New(context.Background(), cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	conn, err := grpc.NewClient(cfg.Server.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer checkCancel()
	resp, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err, "health checks skip authentication")
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestGateway_RunListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Server.HTTPAddr = ln.Addr().String()

	gw, err := New(context.Background(), cfg, testLogger())
	require.NoError(t, err)

	err = gw.Run(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "listening on HTTP address"))
}

func TestIsHealthMethod(t *testing.T) {
	assert.True(t, isHealthMethod("/grpc.health.v1.Health/Check"))
	assert.True(t, isHealthMethod("/grpc.health.v1.Health/Watch"))
	assert.False(t, isHealthMethod("/reports.Service/Read"))
}
