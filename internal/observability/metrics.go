package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/importdesk/importdesk/internal/jobs"
)

// Metrics collects the Prometheus metrics of the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	fifoDeductions prometheus.Counter
	fifoBatches    prometheus.Histogram
	shortfalls     *prometheus.CounterVec
	restocked      prometheus.Counter
	invoices       *prometheus.CounterVec
	invoiceGross   prometheus.Counter
	returns        prometheus.Counter
	refunds        prometheus.Counter

	jobs *jobmetrics.Metrics
}

// NewMetrics initialises the registry with HTTP, domain and job metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "importdesk_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "importdesk_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	m := &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		fifoDeductions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importdesk_inventory_deducted_units_total",
			Help: "Units taken from batches by FIFO consumption.",
		}),
		fifoBatches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "importdesk_inventory_batches_per_consumption",
			Help:    "Batches touched by one FIFO consumption.",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		}),
		shortfalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "importdesk_inventory_shortfalls_total",
			Help: "Sales rejected for insufficient stock.",
		}, []string{"item"}),
		restocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importdesk_inventory_restocked_units_total",
			Help: "Units put back into stock by returns.",
		}),
		invoices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "importdesk_sales_invoices_total",
			Help: "Invoices created by withholding section.",
		}, []string{"section"}),
		invoiceGross: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importdesk_sales_gross_total",
			Help: "Gross value of created invoices.",
		}),
		returns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importdesk_sales_return_lines_total",
			Help: "Returned invoice lines.",
		}),
		refunds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importdesk_sales_refund_total",
			Help: "Value refunded through returns.",
		}),
	}
	registry.MustRegister(requests, duration, m.fifoDeductions, m.fifoBatches, m.shortfalls,
		m.restocked, m.invoices, m.invoiceGross, m.returns, m.refunds)
	m.jobs = jobmetrics.NewMetrics(registry)
	return m
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Jobs returns the background job collectors sharing this registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// ObserveConsumption implements inventory.Observer.
func (m *Metrics) ObserveConsumption(deducted float64, batches int) {
	if m == nil {
		return
	}
	m.fifoDeductions.Add(deducted)
	m.fifoBatches.Observe(float64(batches))
}

// ObserveShortfall implements inventory.Observer.
func (m *Metrics) ObserveShortfall(itemID string) {
	if m == nil {
		return
	}
	m.shortfalls.WithLabelValues(itemID).Inc()
}

// ObserveRestock implements inventory.Observer.
func (m *Metrics) ObserveRestock(quantity float64) {
	if m == nil {
		return
	}
	m.restocked.Add(quantity)
}

// InvoiceCreated implements sales.Metrics.
func (m *Metrics) InvoiceCreated(section string, gross float64) {
	if m == nil {
		return
	}
	m.invoices.WithLabelValues(section).Inc()
	m.invoiceGross.Add(gross)
}

// ReturnRecorded implements sales.Metrics.
func (m *Metrics) ReturnRecorded(refund float64, lines int) {
	if m == nil {
		return
	}
	m.returns.Add(float64(lines))
	m.refunds.Add(refund)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
