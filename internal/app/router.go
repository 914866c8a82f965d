package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/modelgate/modelgate/internal/audit"
	"github.com/modelgate/modelgate/internal/auth"
	"github.com/modelgate/modelgate/internal/observability"
	"github.com/modelgate/modelgate/internal/rbac"
	"github.com/modelgate/modelgate/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	Pool         *pgxpool.Pool
	AuthHandler  *auth.Handler
	AuthMW       auth.Middleware
	Guard        rbac.Guard
	RBACHandler  *rbac.Handler
	AuditHandler *audit.Handler
	JobHandler   *jobs.Handler
	Metrics      *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", healthHandler(params.Pool))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	var loginLimit func(http.Handler) http.Handler
	if params.Config != nil && params.Config.LoginRateLimit > 0 {
		loginLimit = httprate.Limit(params.Config.LoginRateLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/auth", params.AuthHandler.Routes(params.AuthMW.RequireAuth, loginLimit))

		r.Group(func(r chi.Router) {
			r.Use(params.AuthMW.RequireAuth)
			r.Mount("/users", params.RBACHandler.UserRoutes())
			r.Mount("/roles", params.RBACHandler.RoleRoutes())
			r.Mount("/permissions", params.RBACHandler.PermissionRoutes())
			r.Mount("/audit", params.AuditHandler.Routes(params.Guard.Require))
			if params.JobHandler != nil {
				r.Route("/jobs", func(r chi.Router) {
					params.JobHandler.MountRoutes(r, params.Guard.Require)
				})
			}
		})
	})

	return r
}

func healthHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
