package internal

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"asset-census-api/pkg/inventory"
	"asset-census-api/pkg/reconcile"
)

// Metrics provides Prometheus metrics collection for HTTP requests and the
// inventory session
type Metrics struct {
	reqTotal   *prometheus.CounterVec
	reqLatency *prometheus.HistogramVec

	assets      *prometheus.GaugeVec
	areas       *prometheus.GaugeVec
	completed   prometheus.Gauge
	assignments *prometheus.CounterVec
	reconciled  *prometheus.CounterVec
	diffs       prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates a new Metrics instance with a private Prometheus registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		reqTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		reqLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		assets: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "census_assets",
				Help: "Assets in the session by tracking state",
			},
			[]string{"state"},
		),
		areas: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "census_areas",
				Help: "Areas by completion state",
			},
			[]string{"state"},
		),
		completed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "census_inventory_completed",
			Help: "1 once every asset has been located",
		}),
		assignments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "census_assignments_total",
				Help: "Locate and un-locate operations that changed an asset",
			},
			[]string{"op"},
		),
		reconciled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "census_reconciled_entries_total",
				Help: "Change-set entries applied, by kind",
			},
			[]string{"kind"},
		),
		diffs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "census_diff_duration_seconds",
			Help:    "Time spent diffing an imported snapshot",
			Buckets: prometheus.DefBuckets,
		}),
		registry: registry,
	}

	registry.MustRegister(m.reqTotal, m.reqLatency, m.assets, m.areas, m.completed, m.assignments, m.reconciled, m.diffs)
	return m
}

// Middleware returns a Chi middleware that collects metrics
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rw, r)

			// Use Chi's route pattern so path params do not explode cardinality
			path := r.URL.Path
			if chiCtx := chi.RouteContext(r.Context()); chiCtx != nil && chiCtx.RoutePattern() != "" {
				path = chiCtx.RoutePattern()
			}

			status := http.StatusText(rw.code)
			m.reqTotal.WithLabelValues(r.Method, path, status).Inc()
			m.reqLatency.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler returns an http.Handler that serves Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSession refreshes the session gauges.
func (m *Metrics) ObserveSession(s *inventory.Session) {
	var located, mismatched int
	for _, a := range s.Assets {
		if a.Located {
			located++
		}
		if a.Mismatched {
			mismatched++
		}
	}
	m.assets.WithLabelValues("located").Set(float64(located))
	m.assets.WithLabelValues("pending").Set(float64(len(s.Assets) - located))
	m.assets.WithLabelValues("mismatched").Set(float64(mismatched))

	states := map[inventory.AreaState]int{
		inventory.AreaPending:   0,
		inventory.AreaCompleted: 0,
		inventory.AreaClosed:    0,
	}
	for _, a := range s.Areas {
		states[a.State]++
	}
	for st, n := range states {
		m.areas.WithLabelValues(string(st)).Set(float64(n))
	}

	if s.Inventory.Completed {
		m.completed.Set(1)
	} else {
		m.completed.Set(0)
	}
}

// CountAssignment records a locate or un-locate that changed an asset.
func (m *Metrics) CountAssignment(op string) {
	m.assignments.WithLabelValues(op).Inc()
}

// CountApply records the entries written by a change-set apply.
func (m *Metrics) CountApply(res reconcile.ApplyResult) {
	m.reconciled.WithLabelValues(string(reconcile.KindAdded)).Add(float64(len(res.Inserted)))
	m.reconciled.WithLabelValues(string(reconcile.KindModified)).Add(float64(len(res.Updated)))
	m.reconciled.WithLabelValues(string(reconcile.KindRemoved)).Add(float64(len(res.Deleted)))
}

// ObserveDiff records how long a diff took.
func (m *Metrics) ObserveDiff(d time.Duration) {
	m.diffs.Observe(d.Seconds())
}

// statusRecorder captures the HTTP status code for metrics
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.code = code
	sr.ResponseWriter.WriteHeader(code)
}
