// Package observability exposes Prometheus metrics for the HTTP surface and
// the ledger.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	journalsPosted  *prometheus.CounterVec
	postingFailures *prometheus.CounterVec
	reconcileDiff   *prometheus.GaugeVec
}

// NewMetrics builds a private registry with the HTTP and ledger collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backoffice_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	posted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_journals_posted_total",
		Help: "Journals posted by source document type.",
	}, []string{"source"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_posting_failures_total",
		Help: "Rejected postings by error kind.",
	}, []string{"kind"})
	diff := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "backoffice_reconcile_difference",
		Help: "Control account balance minus subledger total, last computed.",
	}, []string{"company", "side"})
	registry.MustRegister(requests, duration, posted, failures, diff)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		journalsPosted:  posted,
		postingFailures: failures,
		reconcileDiff:   diff,
	}
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records count and latency of every HTTP request.
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

// Registerer exposes the registry for extra collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// JournalPosted counts a committed journal.
func (m *Metrics) JournalPosted(source string) {
	if m == nil {
		return
	}
	if source == "" {
		source = "unknown"
	}
	m.journalsPosted.WithLabelValues(source).Inc()
}

// PostingFailed counts a rejected posting.
func (m *Metrics) PostingFailed(kind shared.Kind) {
	if m == nil {
		return
	}
	m.postingFailures.WithLabelValues(string(kind)).Inc()
}

// ReconcileDifference sets the reconciliation gauge.
func (m *Metrics) ReconcileDifference(companyID int64, side string, difference decimal.Decimal) {
	if m == nil {
		return
	}
	m.reconcileDiff.WithLabelValues(strconv.FormatInt(companyID, 10), side).Set(difference.InexactFloat64())
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
