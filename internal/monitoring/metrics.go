// Package monitoring exposes Prometheus metrics for the playground.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes recorded by RunsTotal.
const (
	RunStarted = "started"
	RunFailed  = "failed"
	RunSkipped = "skipped"
)

// Metrics holds the playground's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal     *prometheus.CounterVec
	RunExitCodes  *prometheus.CounterVec
	OutputChunks  prometheus.Counter
	BootDuration  *prometheus.HistogramVec
	SandboxReady  prometheus.Gauge
	WSConnections prometheus.Gauge
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playground_runs_total",
				Help: "Run requests by outcome",
			},
			[]string{"outcome"},
		),
		RunExitCodes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playground_run_exits_total",
				Help: "Finished runs by exit status",
			},
			[]string{"status"},
		),
		OutputChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "playground_output_chunks_total",
			Help: "Output chunks streamed from sandbox processes",
		}),
		BootDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playground_boot_duration_seconds",
				Help:    "Sandbox boot latency",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"result"},
		),
		SandboxReady: factory.NewGauge(prometheus.GaugeOpts{
			Name: "playground_sandbox_ready",
			Help: "1 when a sandbox handle is available",
		}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "playground_websocket_connections",
			Help: "Open WebSocket connections",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
