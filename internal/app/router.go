package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bodega-erp/bodega-erp/internal/inventory"
	"github.com/bodega-erp/bodega-erp/internal/observability"
	"github.com/bodega-erp/bodega-erp/internal/pricing"
	"github.com/bodega-erp/bodega-erp/internal/procurement"
	"github.com/bodega-erp/bodega-erp/internal/proration"
	"github.com/bodega-erp/bodega-erp/internal/sales"
	"github.com/bodega-erp/bodega-erp/internal/transfers"
	"github.com/bodega-erp/bodega-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	InventoryHandler   *inventory.Handler
	SalesHandler       *sales.Handler
	TransfersHandler   *transfers.Handler
	ProcurementHandler *procurement.Handler
	ProrationHandler   *proration.Handler
	PricingHandler     *pricing.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router for the JSON API.
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

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/inventory", params.InventoryHandler.MountRoutes)
		r.Route("/sales", params.SalesHandler.MountRoutes)
		r.Route("/transfers", params.TransfersHandler.MountRoutes)
		r.Route("/procurement", params.ProcurementHandler.MountRoutes)
		r.Route("/prorations", params.ProrationHandler.MountRoutes)
		r.Route("/pricing", params.PricingHandler.MountRoutes)
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
