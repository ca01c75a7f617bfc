// Package metrics holds the Prometheus collectors of the bridge
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "homeconnect_bridge"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Commands          *prometheus.CounterVec
	CommandDuration   *prometheus.HistogramVec
	EntitiesPublished *prometheus.GaugeVec
	StateWrites       *prometheus.CounterVec
	Refreshes         *prometheus.CounterVec
	Appliances        prometheus.Gauge
	ServiceStatus     prometheus.Gauge
	HTTPRequests      *prometheus.CounterVec
}

// New creates the collectors on a private registry that also carries the Go
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands sent to appliances by platform and result.",
		}, []string{"platform", "result"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Latency of appliance commands.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"platform"}),
		EntitiesPublished: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entities_published",
			Help:      "Entities currently published to Home Assistant.",
		}, []string{"platform"}),
		StateWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_writes_total",
			Help:      "State messages published to Home Assistant.",
		}, []string{"platform"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Catalog refresh passes by result.",
		}, []string{"result"}),
		Appliances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "appliances",
			Help:      "Paired appliances.",
		}),
		ServiceStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_status",
			Help:      "Home Connect service status (0 INIT, 1 LOADING, 2 LOADED, 3 READY, 4 BLOCKED).",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Commands,
		m.CommandDuration,
		m.EntitiesPublished,
		m.StateWrites,
		m.Refreshes,
		m.Appliances,
		m.ServiceStatus,
		m.HTTPRequests,
	)
	return m
}

// Registry exposes the registry for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCommand records one appliance command
func (m *Metrics) ObserveCommand(platform string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.Commands.WithLabelValues(platform, result).Inc()
	m.CommandDuration.WithLabelValues(platform).Observe(elapsed.Seconds())
}

// SetPublished records how many entities of a platform are published
func (m *Metrics) SetPublished(platform string, count int) {
	if m == nil {
		return
	}
	m.EntitiesPublished.WithLabelValues(platform).Set(float64(count))
}

// StateWritten counts one state publish
func (m *Metrics) StateWritten(platform string) {
	if m == nil {
		return
	}
	m.StateWrites.WithLabelValues(platform).Inc()
}

// RefreshDone records the outcome of a refresh pass
func (m *Metrics) RefreshDone(err error, appliances int) {
	if m == nil {
		return
	}
	if err != nil {
		m.Refreshes.WithLabelValues("error").Inc()
		return
	}
	m.Refreshes.WithLabelValues("success").Inc()
	m.Appliances.Set(float64(appliances))
}

// SetServiceStatus records the numeric service status
func (m *Metrics) SetServiceStatus(status int) {
	if m == nil {
		return
	}
	m.ServiceStatus.Set(float64(status))
}

// Middleware counts HTTP requests by chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if m == nil {
			return
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	})
}
