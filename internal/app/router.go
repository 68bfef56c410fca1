package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/clearpath-care/clearpath/internal/approvals"
	"github.com/clearpath-care/clearpath/internal/audit"
	"github.com/clearpath-care/clearpath/internal/authorizations"
	"github.com/clearpath-care/clearpath/internal/billing"
	"github.com/clearpath-care/clearpath/internal/observability"
	"github.com/clearpath-care/clearpath/internal/servicetypes"
	"github.com/clearpath-care/clearpath/internal/sessions"
	"github.com/clearpath-care/clearpath/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger                *slog.Logger
	Config                *Config
	ServiceTypesHandler   *servicetypes.Handler
	SessionsHandler       *sessions.Handler
	ApprovalsHandler      *approvals.Handler
	AuthorizationsHandler *authorizations.Handler
	BillingHandler        *billing.Handler
	AuditHandler          *audit.Handler
	JobHandler            *jobs.Handler
	Metrics               *observability.Metrics
}

// NewRouter constructs the chi.Router with ClearPath defaults.
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

	if params.ServiceTypesHandler != nil {
		r.Route("/service-types", params.ServiceTypesHandler.MountRoutes)
	}
	if params.SessionsHandler != nil {
		r.Route("/sessions", params.SessionsHandler.MountRoutes)
	}
	if params.ApprovalsHandler != nil {
		r.Route("/approvals", params.ApprovalsHandler.MountRoutes)
	}
	if params.AuthorizationsHandler != nil {
		r.Route("/authorizations", params.AuthorizationsHandler.MountRoutes)
	}
	if params.BillingHandler != nil {
		r.Route("/billing", params.BillingHandler.MountRoutes)
	}
	if params.AuditHandler != nil {
		r.Route("/audit", params.AuditHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
