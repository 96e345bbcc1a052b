// ABOUTME: ACL middleware guarding a route's controller/action with the authenticated principal's role
// ABOUTME: Denials become 403 "Access denied."

package dispatch

import (
	"context"
	"net/http"

	"github.com/2389/gatekeeper/internal/auth"
)

// Authorizer answers access questions. *acl.Engine implements it.
type Authorizer interface {
	IsAllowed(ctx context.Context, role, controller, action string) (bool, error)
}

// RequireAllowed returns middleware that lets the request through only when
// the principal's role may invoke action on controller. It must run after
// Middleware.
func (d *Dispatcher) RequireAllowed(authz Authorizer, controller, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := auth.FromContext(r.Context()).Role()

			allowed, err := authz.IsAllowed(r.Context(), role, controller, action)
			if err != nil {
				d.logger.Error("acl evaluation failed", "error", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			d.cfg.Metrics.observeDecision(allowed)

			if !allowed {
				logHTTPFailure(d.logger, r, "access_denied",
					"role", role,
					"controller", controller,
					"action", action,
				)
				d.responder.Forbidden(w, r, MsgAccessDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
