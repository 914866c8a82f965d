package rbac

import (
	"net/http"

	"github.com/modelgate/modelgate/internal/audit"
	"github.com/modelgate/modelgate/internal/authz"
	"github.com/modelgate/modelgate/internal/platform/httpx"
	"github.com/modelgate/modelgate/internal/shared"
)

// DenialCounter counts rejected authorization checks.
type DenialCounter interface {
	IncAuthzDenied(resource, action string)
}

// Guard enforces permissions on routes. It runs after the auth middleware
// and reads the flattened permission strings it resolved.
type Guard struct {
	Auditor Recorder
	Metrics DenialCounter
}

// Require returns middleware rejecting callers lacking resource:action.
// Denials are audited with the permission that was required.
func (g Guard) Require(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := shared.RequestFromContext(r.Context())
			if !rc.Authenticated() {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
				return
			}
			if !authz.Has(rc.Permissions, resource, action) {
				g.deny(r, rc, resource, action)
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing permission "+resource+":"+action)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g Guard) deny(r *http.Request, rc shared.RequestContext, resource, action string) {
	if g.Metrics != nil {
		g.Metrics.IncAuthzDenied(resource, action)
	}
	if g.Auditor == nil {
		return
	}
	actorID := rc.PrincipalID
	g.Auditor.Record(r.Context(), audit.Entry{
		Action:       audit.ActionAccessDenied,
		ActorID:      &actorID,
		ActorName:    rc.Email,
		ResourceType: resource,
		Outcome:      audit.OutcomeFailure,
		ErrorMessage: "permission denied",
		Context:      rc,
		Metadata: map[string]any{
			"required_permission": resource + ":" + action,
			"method":              r.Method,
			"path":                r.URL.Path,
		},
	})
}
