package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/aegis-platform/aegis-iam/internal/authz"
	"github.com/aegis-platform/aegis-iam/internal/identity"
	"github.com/aegis-platform/aegis-iam/internal/observability"
	"github.com/aegis-platform/aegis-iam/internal/permissions"
	"github.com/aegis-platform/aegis-iam/internal/roles"
	"github.com/aegis-platform/aegis-iam/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	IdentityHandler    *identity.Handler
	RolesHandler       *roles.Handler
	PermissionsHandler *permissions.Handler
	JobsHandler        *jobs.Handler
	AuthzMiddleware    authz.Middleware
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router. Auth endpoints are public; everything
// else sits behind the bearer token middleware.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			params.IdentityHandler.MountPublicRoutes(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(params.AuthzMiddleware.Authenticate)
			params.IdentityHandler.MountProtectedRoutes(r)
			params.RolesHandler.MountRoutes(r)
			params.PermissionsHandler.MountRoutes(r)
			if params.JobsHandler != nil {
				params.JobsHandler.MountRoutes(r)
			}
		})
	})

	return r
}
