package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/odyssey-erp/invoice-ledger/internal/audit/http"
	"github.com/odyssey-erp/invoice-ledger/internal/dispatch"
	"github.com/odyssey-erp/invoice-ledger/internal/invoicing"
	"github.com/odyssey-erp/invoice-ledger/internal/observability"
	"github.com/odyssey-erp/invoice-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Tokens          *TokenService
	InvoiceHandler  *invoicing.Handler
	DispatchHandler *dispatch.Handler
	AuditHandler    *audithttp.Handler
	Metrics         *observability.Metrics
	Checks          map[string]HealthCheck
}

// NewRouter constructs the chi.Router with ledger defaults.
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
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(params.Checks, params.Logger))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ActorMiddleware(params.Tokens, params.Logger))
		r.Get("/me", whoami)
		if params.InvoiceHandler != nil {
			params.InvoiceHandler.MountRoutes(r)
		}
		if params.DispatchHandler != nil {
			params.DispatchHandler.MountRoutes(r)
		}
		params.AuditHandler.MountRoutes(r)
	})

	return r
}

func whoami(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, map[string]any{"id": actor.ID, "name": actor.Name})
}

func readiness(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		report := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				if logger != nil {
					logger.Warn("readiness check failed", slog.String("check", name), slog.Any("error", err))
				}
				report[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			report[name] = "ok"
		}
		httpx.JSON(w, status, report)
	}
}
