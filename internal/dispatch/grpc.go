// ABOUTME: gRPC interceptors authenticating Basic and Bearer credentials from metadata
// ABOUTME: Also guards methods with the ACL, mapping service to controller and method to action

package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/2389/gatekeeper/internal/auth"
)

// logAuthFailure logs an authentication failure with structured context.
func logAuthFailure(logger *slog.Logger, ctx context.Context, reason string, attrs ...any) {
	baseAttrs := []any{"reason", reason}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		baseAttrs = append(baseAttrs, "peer_addr", p.Addr.String())
	}
	baseAttrs = append(baseAttrs, attrs...)
	logger.Warn("auth failure", baseAttrs...)
}

// authenticateMetadata runs the configured authenticator for the
// authorization metadata entry. Hawk needs the HTTP request line and body,
// so it is not accepted over gRPC.
func (d *Dispatcher) authenticateMetadata(ctx context.Context) (context.Context, error) {
	if len(d.cfg.Mechanisms) == 0 {
		return ctx, nil
	}

	start := time.Now()
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("authorization"); len(values) > 0 {
			header = values[0]
		}
	}

	scheme, mech, ok := d.selectMechanism(header)
	if !ok || mech == auth.MechanismHawk {
		d.cfg.Metrics.observeAttempt(mech, ResultRejected, time.Since(start))
		logAuthFailure(d.logger, ctx, "illegal_mechanism", "scheme", scheme)
		_ = grpc.SetHeader(ctx, metadata.Pairs("www-authenticate", d.challengeList()))
		return nil, status.Errorf(codes.Unauthenticated, MsgIllegalMechanism, scheme)
	}

	var (
		a   attempt
		err error
	)
	switch mech {
	case auth.MechanismBasic:
		a, err = d.authenticateBasic(ctx, header)
	case auth.MechanismBearer:
		a, err = d.authenticateBearer(ctx, header)
	}
	if err != nil {
		d.cfg.Metrics.observeAttempt(mech, ResultError, time.Since(start))
		d.logger.Error("authentication error", "mechanism", mech, "error", err)
		return nil, status.Error(codes.Internal, "authentication unavailable")
	}

	if !a.result.Authenticated {
		d.cfg.Metrics.observeAttempt(mech, ResultFailure, time.Since(start))
		logAuthFailure(d.logger, ctx, "authentication_failed",
			"mechanism", mech,
			"principal_id", a.principal,
			"message", a.result.Message,
		)
		_ = grpc.SetHeader(ctx, metadata.Pairs("www-authenticate", d.challenge(mech)))
		return nil, status.Error(codes.Unauthenticated, a.result.ClientMessage(d.disclose(mech)))
	}

	d.cfg.Metrics.observeAttempt(mech, ResultSuccess, time.Since(start))
	return auth.WithAuth(ctx, &auth.AuthContext{PrincipalID: a.principal, Mechanism: mech}), nil
}

// UnaryInterceptor returns a gRPC unary interceptor that authenticates requests.
func (d *Dispatcher) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := d.authenticateMetadata(ctx)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor that authenticates requests.
func (d *Dispatcher) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := d.authenticateMetadata(ss.Context())
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// splitMethod turns "/pkg.Service/Method" into controller and action.
func splitMethod(fullMethod string) (string, string) {
	service, method, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	if !ok {
		return fullMethod, ""
	}
	return service, method
}

func (d *Dispatcher) authorizeMethod(ctx context.Context, authz Authorizer, fullMethod string) error {
	controller, action := splitMethod(fullMethod)
	role := auth.FromContext(ctx).Role()

	allowed, err := authz.IsAllowed(ctx, role, controller, action)
	if err != nil {
		d.logger.Error("acl evaluation failed", "error", err)
		return status.Error(codes.Internal, "authorization unavailable")
	}
	d.cfg.Metrics.observeDecision(allowed)
	if !allowed {
		logAuthFailure(d.logger, ctx, "access_denied",
			"role", role,
			"controller", controller,
			"action", action,
		)
		return status.Error(codes.PermissionDenied, MsgAccessDenied)
	}
	return nil
}

// ACLUnaryInterceptor checks the ACL for each call. It must be chained after
// UnaryInterceptor.
func (d *Dispatcher) ACLUnaryInterceptor(authz Authorizer) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if err := d.authorizeMethod(ctx, authz, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// ACLStreamInterceptor checks the ACL for each stream. It must be chained
// after StreamInterceptor.
func (d *Dispatcher) ACLStreamInterceptor(authz Authorizer) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if err := d.authorizeMethod(ss.Context(), authz, info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

// wrappedServerStream wraps a grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
