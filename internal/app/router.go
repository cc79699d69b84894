package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/teranga-app/teranga/internal/cotisation"
	"github.com/teranga-app/teranga/internal/expense"
	"github.com/teranga-app/teranga/internal/loan"
	"github.com/teranga-app/teranga/internal/observability"
	"github.com/teranga-app/teranga/internal/org"
	"github.com/teranga-app/teranga/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	OrgHandler        *org.Handler
	CotisationHandler *cotisation.Handler
	ExpenseHandler    *expense.Handler
	LoanHandler       *loan.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with Teranga defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)
	if params.Metrics != nil {
		r.Use(params.Metrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/associations", params.OrgHandler.MountRoutes)
	r.Route("/cotisations", params.CotisationHandler.MountRoutes)
	r.Route("/expenses", params.ExpenseHandler.MountRoutes)
	r.Route("/loans", params.LoanHandler.MountRoutes)
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
