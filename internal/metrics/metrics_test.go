package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Recorders(t *testing.T) {
	m := New()

	m.ObserveCommand("select", nil, 20*time.Millisecond)
	m.ObserveCommand("select", errors.New("409"), 5*time.Millisecond)
	m.ObserveCommand("select", errors.New("409"), 5*time.Millisecond)
	m.SetPublished("sensor", 7)
	m.StateWritten("sensor")
	m.RefreshDone(nil, 2)
	m.RefreshDone(errors.New("timeout"), 0)
	m.SetServiceStatus(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("select", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Commands.WithLabelValues("select", "error")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.EntitiesPublished.WithLabelValues("sensor")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateWrites.WithLabelValues("sensor")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Appliances), "failed refresh keeps the last count")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ServiceStatus))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCommand("select", nil, time.Second)
		m.SetPublished("select", 1)
		m.StateWritten("select")
		m.RefreshDone(nil, 1)
		m.SetServiceStatus(1)
	})
}

func TestMetrics_MiddlewareAndHandler(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/appliances/{haID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", m.Handler())

	req := httptest.NewRequest(http.MethodGet, "/api/appliances/abc", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/appliances/{haID}", "GET", "404")))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "homeconnect_bridge_http_requests_total")
	assert.Contains(t, string(body), "go_goroutines")
}
