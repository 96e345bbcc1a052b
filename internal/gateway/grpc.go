// ABOUTME: gRPC server construction with authentication and ACL interceptors
// ABOUTME: Registers the standard health service, which is exempt from authentication

package gateway

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// createGRPCServer creates a gRPC server that authenticates every call and,
// when the ACL is enabled, authorizes it by service and method.
func (g *Gateway) createGRPCServer() (*grpc.Server, *health.Server) {
	unary := []grpc.UnaryServerInterceptor{skipHealthUnary(g.dispatcher.UnaryInterceptor())}
	stream := []grpc.StreamServerInterceptor{skipHealthStream(g.dispatcher.StreamInterceptor())}
	if acl := g.components.ACL; acl != nil {
		unary = append(unary, skipHealthUnary(g.dispatcher.ACLUnaryInterceptor(acl)))
		stream = append(stream, skipHealthStream(g.dispatcher.ACLStreamInterceptor(acl)))
	}

	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	g.logger.Info("gRPC interceptors enabled", "acl", g.components.ACL != nil)
	return server, healthServer
}

// healthService is the method prefix of the standard health service.
const healthService = "/grpc.health.v1.Health/"

func isHealthMethod(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, healthService)
}

// skipHealthUnary bypasses next for health checks.
func skipHealthUnary(next grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if isHealthMethod(info.FullMethod) {
			return handler(ctx, req)
		}
		return next(ctx, req, info, handler)
	}
}

// skipHealthStream bypasses next for health watches.
func skipHealthStream(next grpc.StreamServerInterceptor) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if isHealthMethod(info.FullMethod) {
			return handler(srv, ss)
		}
		return next(srv, ss, info, handler)
	}
}
