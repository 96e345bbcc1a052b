// ABOUTME: Gateway orchestrator that coordinates the HTTP and gRPC servers
// ABOUTME: Builds verifiers and the dispatcher from config and manages their lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/2389/gatekeeper/internal/auth"
	"github.com/2389/gatekeeper/internal/basic"
	"github.com/2389/gatekeeper/internal/config"
	"github.com/2389/gatekeeper/internal/dispatch"
	"github.com/2389/gatekeeper/internal/hawk"
	"github.com/2389/gatekeeper/internal/jwtauth"
	"github.com/2389/gatekeeper/internal/nonce"
)

// Gateway serves authenticated HTTP routes and, when configured, gRPC.
type Gateway struct {
	config     *config.Config
	components *Components
	dispatcher *dispatch.Dispatcher
	metrics    *dispatch.Metrics
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
	logger     *slog.Logger

	// serverID identifies this gateway instance in logs
	serverID string
}

// New opens every configured backend and builds the servers. Nothing listens
// until Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	components, err := OpenComponents(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	gw, err := newGateway(ctx, cfg, components, logger)
	if err != nil {
		_ = components.Close()
		return nil, err
	}
	return gw, nil
}

func newGateway(ctx context.Context, cfg *config.Config, components *Components, logger *slog.Logger) (*Gateway, error) {
	metrics := dispatch.NewMetrics()

	d, err := newDispatcher(ctx, cfg, components, metrics, logger)
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config:     cfg,
		components: components,
		dispatcher: d,
		metrics:    metrics,
		logger:     logger.With("component", "gateway"),
		serverID:   generateServerID(),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.newRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer, gw.health = gw.createGRPCServer()
	}

	return gw, nil
}

// newDispatcher builds a verifier for every configured mechanism.
func newDispatcher(ctx context.Context, cfg *config.Config, components *Components, metrics *dispatch.Metrics, logger *slog.Logger) (*dispatch.Dispatcher, error) {
	responder, err := dispatch.NewResponder(cfg.Server.ErrorFormat)
	if err != nil {
		return nil, err
	}

	dcfg := dispatch.Config{
		Mechanisms:    cfg.Auth.Mechanisms,
		HawkDisclose:  cfg.Hawk.Disclose,
		SignResponses: cfg.Hawk.SignResponses,
		MaxBodyBytes:  cfg.Hawk.MaxBodyBytes,
		BasicDisclose: cfg.Basic.Disclose,
		JWTDisclose:   cfg.JWT.Disclose,
		Principals:    components.Users,
		Responder:     responder,
		Metrics:       metrics,
		Logger:        logger,
	}

	if cfg.Auth.Accepts(auth.MechanismHawk) {
		nonces, err := nonce.Open(ctx, nonce.Options{
			Backend: cfg.Hawk.Backend,
			Expire:  cfg.Hawk.Expire,
			Dir:     cfg.Hawk.NonceDir,
			Table:   cfg.Hawk.NonceTable,
			Prefix:  cfg.Cache.Prefix,
		}, components.DB, components.Nonces)
		if err != nil {
			return nil, fmt.Errorf("opening nonce store: %w", err)
		}
		dcfg.Hawk, err = hawk.NewVerifier(hawk.Config{
			Algorithms: cfg.Hawk.Algorithms,
			Expire:     cfg.Hawk.Expire,
			Nonces:     nonces,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating hawk verifier: %w", err)
		}
	}

	if cfg.Auth.Accepts(auth.MechanismBasic) {
		bcfg := basic.Config{
			Realm:  cfg.Basic.Realm,
			Logger: logger,
		}
		if dir := cfg.Basic.Directory; dir.Enabled() {
			ldapDir, err := basic.NewLDAPDirectory(basic.LDAPConfig{
				URL:                dir.URL,
				BindDNTemplate:     dir.BindDNTemplate,
				StartTLS:           dir.StartTLS,
				InsecureSkipVerify: dir.InsecureSkipVerify,
				Timeout:            dir.Timeout,
			})
			if err != nil {
				return nil, fmt.Errorf("creating basic directory: %w", err)
			}
			bcfg.Directory = ldapDir
			logger.Info("basic authentication delegated to directory", "url", dir.URL)
		}
		dcfg.Basic = basic.NewVerifier(bcfg)
	}

	if cfg.Auth.Accepts(auth.MechanismBearer) {
		dcfg.JWT = jwtauth.NewVerifier(jwtauth.Config{
			Claims:    cfg.JWT.Claims,
			Audiences: cfg.JWT.Audiences,
			Issuers:   cfg.JWT.Issuers,
			Grace:     jwtauth.ParseGrace(cfg.JWT.Grace, logger),
			Logger:    logger,
		})
	}

	d, err := dispatch.New(dcfg)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	return d, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListeners creates the HTTP listener and, when gRPC is enabled, the
// gRPC listener.
func (g *Gateway) setupTCPListeners() (httpLn, grpcLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"server_id", g.serverID,
		"http_addr", g.config.Server.HTTPAddr,
		"grpc_addr", g.config.Server.GRPCAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.grpcServer == nil {
		return httpLn, nil, nil
	}
	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		_ = httpLn.Close()
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}
	return httpLn, grpcLn, nil
}

// startServers starts the servers in goroutines, returning the error channel.
func (g *Gateway) startServers(httpLn, grpcLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the servers and blocks until the context is canceled.
// Returns nil on graceful shutdown, or the first server error.
func (g *Gateway) Run(ctx context.Context) error {
	httpListener, grpcListener, err := g.setupTCPListeners()
	if err != nil {
		_ = g.components.Close()
		return err
	}

	errCh := g.startServers(httpListener, grpcListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is already
// canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// Shutdown stops the servers and releases backends.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	errs = appendCloseError(errs, "backends close", g.components.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the principal list and ACL table load.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.components.Users.Encoded(r.Context()); err != nil {
		g.logger.Error("readiness: users unavailable", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("users unavailable"))
		return
	}
	if g.components.ACL != nil {
		if _, err := g.components.ACL.Table(r.Context()); err != nil {
			g.logger.Error("readiness: acl unavailable", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("acl unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("gatekeeper-%d", time.Now().UnixNano()%1000000)
}
