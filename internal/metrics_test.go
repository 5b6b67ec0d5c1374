package internal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-census-api/pkg/inventory"
	"asset-census-api/pkg/reconcile"
)

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	metrics := NewMetrics()
	router := chi.NewRouter()
	router.Use(metrics.Middleware())
	router.Get("/assets/{key}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("asset"))
	})
	router.Get("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	router.Get("/metrics", metrics.Handler().ServeHTTP)

	for _, path := range []string{"/assets/A1", "/assets/A2", "/missing"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.reqTotal.WithLabelValues("GET", "/assets/{key}", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.reqTotal.WithLabelValues("GET", "/missing", "Not Found")))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "http_request_duration_seconds")
	assert.Contains(t, body, `path="/assets/{key}"`)
	assert.NotContains(t, body, `path="/assets/A1"`)
}

func TestMetrics_ObserveSession(t *testing.T) {
	metrics := NewMetrics()
	s := inventory.NewSession()
	s.Assets["A1"] = &inventory.Asset{Key: "A1", Located: true, Mismatched: true}
	s.Assets["A2"] = &inventory.Asset{Key: "A2", Located: true}
	s.Assets["A3"] = &inventory.Asset{Key: "A3"}
	s.Areas["ADM"] = &inventory.Area{ID: "ADM", State: inventory.AreaCompleted}
	s.Areas["TI"] = &inventory.Area{ID: "TI", State: inventory.AreaPending}

	metrics.ObserveSession(s)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.assets.WithLabelValues("located")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.assets.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.assets.WithLabelValues("mismatched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.areas.WithLabelValues("completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.areas.WithLabelValues("closed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.completed))

	s.Assets["A3"].Located = true
	s.Areas["TI"].State = inventory.AreaClosed
	s.Inventory.Completed = true
	metrics.ObserveSession(s)

	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.assets.WithLabelValues("pending")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.areas.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.areas.WithLabelValues("closed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.completed))
}

func TestMetrics_Counters(t *testing.T) {
	metrics := NewMetrics()

	metrics.CountAssignment("locate")
	metrics.CountAssignment("locate")
	metrics.CountAssignment("unlocate")
	metrics.CountApply(reconcile.ApplyResult{
		Inserted: []string{"A3", "A4"},
		Updated:  []string{"A1"},
		Deleted:  []string{},
	})
	metrics.ObserveDiff(120 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.assignments.WithLabelValues("locate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.assignments.WithLabelValues("unlocate")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.reconciled.WithLabelValues("added")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.reconciled.WithLabelValues("modified")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.reconciled.WithLabelValues("removed")))

	expected := `
# HELP census_assignments_total Locate and un-locate operations that changed an asset
# TYPE census_assignments_total counter
census_assignments_total{op="locate"} 2
census_assignments_total{op="unlocate"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(metrics.registry, strings.NewReader(expected), "census_assignments_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.diffs))
}
