// Package gateway orchestrates the gatekeeper servers.
//
// # Overview
//
// The gateway owns every long-lived component built from configuration:
// the optional relational database, the shared cache, the principal
// registry, the ACL engine, the authentication dispatcher and the HTTP and
// gRPC servers.
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is canceled
//
// # HTTP
//
// Routes come from the routes section of the config. Every route runs the
// dispatcher's authentication middleware and, when the ACL is enabled, an
// ACL check on the route's controller and action. Requests that match no
// route are authenticated first and then answered with 404.
//
//	GET /health        liveness, no auth
//	GET /health/ready  200 once principals and the ACL table load
//	GET /metrics       Prometheus metrics when metrics.enabled
//
// Each response carries an X-Request-ID header; a UUID sent by the client
// is reused.
//
// # gRPC
//
// When server.grpc_addr is set, a gRPC server is started with the
// dispatcher's interceptors chained ahead of the ACL interceptors. The ACL
// controller is the full service name and the action is the method name.
// The standard health service is registered and bypasses authentication.
//
// # Components
//
// OpenComponents opens the same backends for CLI commands that need them
// without starting servers, such as acl-check and invalidate-cache.
package gateway
