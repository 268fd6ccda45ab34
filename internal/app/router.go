package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/importdesk/importdesk/internal/ar"
	"github.com/importdesk/importdesk/internal/customs"
	"github.com/importdesk/importdesk/internal/inventory"
	"github.com/importdesk/importdesk/internal/observability"
	"github.com/importdesk/importdesk/internal/sales"
	"github.com/importdesk/importdesk/internal/sales/customers"
	"github.com/importdesk/importdesk/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	CustomsHandler   *customs.Handler
	InventoryHandler *inventory.Handler
	SalesHandler     *sales.Handler
	CustomersHandler *customers.Handler
	ARHandler        *ar.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if !InTestMode() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.CustomsHandler != nil {
		r.Route("/gds", params.CustomsHandler.MountRoutes)
	}
	if params.InventoryHandler != nil {
		r.Route("/inventory", params.InventoryHandler.MountRoutes)
	}
	r.Route("/invoices", func(r chi.Router) {
		if params.SalesHandler != nil {
			params.SalesHandler.MountRoutes(r)
		}
		if params.ARHandler != nil {
			params.ARHandler.MountInvoiceRoutes(r)
		}
	})
	r.Route("/customers", func(r chi.Router) {
		if params.CustomersHandler != nil {
			params.CustomersHandler.MountRoutes(r)
		}
		if params.ARHandler != nil {
			params.ARHandler.MountCustomerRoutes(r)
		}
	})
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
