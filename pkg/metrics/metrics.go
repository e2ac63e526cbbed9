// Package metrics implements the gateway's metric surface (spec §4.H):
// a Prometheus registry backing the five required series, plus a
// JSON-snapshot projection for the operational /metrics endpoint and an
// OpenTelemetry periodic-export bridge for long-running processes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// bucketSet is the fixed histogram bucket set spec §4.H names, in seconds.
var bucketSet = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics owns every counter/gauge/histogram the gateway exports. It is
// backed by its own prometheus.Registry rather than the global default, so
// multiple gateway instances in one process (tests) don't collide.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal       *prometheus.CounterVec
	RequestDurationSecs *prometheus.HistogramVec
	ActiveConnections   *prometheus.GaugeVec
	ToolCallsTotal      *prometheus.CounterVec
	UpstreamState       *prometheus.GaugeVec
}

// New registers and returns the gateway's metric set.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Total inbound JSON-RPC requests processed, by method and status.",
		}, []string{"method", "status"}),
		RequestDurationSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "Inbound request latency in seconds, by method.",
			Buckets: bucketSet,
		}, []string{"method"}),
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Current live upstream connections, by server and transport.",
		}, []string{"server", "transport"}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tool_calls_total",
			Help: "Total tool calls forwarded to upstreams, by server and status.",
		}, []string{"server", "status"}),
		UpstreamState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "upstream_state",
			Help: "Current transport-pool state per upstream (0=Disconnected 1=Connecting 2=Connected 3=Reconnecting 4=Failed).",
		}, []string{"server"}),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDurationSecs, m.ActiveConnections, m.ToolCallsTotal, m.UpstreamState)
	return m
}

// ObserveRequest records one completed inbound request.
func (m *Metrics) ObserveRequest(method, status string, durationSeconds float64) {
	m.RequestsTotal.WithLabelValues(method, status).Inc()
	m.RequestDurationSecs.WithLabelValues(method).Observe(durationSeconds)
}

// ObserveToolCall records one completed tool call forwarded to serverID.
func (m *Metrics) ObserveToolCall(serverID, status string) {
	m.ToolCallsTotal.WithLabelValues(serverID, status).Inc()
}

// SetUpstreamState records serverID's current pool state as a small integer
// gauge (spec §4.H "gauge mapping states->int").
func (m *Metrics) SetUpstreamState(serverID string, state int) {
	m.UpstreamState.WithLabelValues(serverID).Set(float64(state))
}

// SetActiveConnection records whether serverID currently has a live
// connection over the given transport.
func (m *Metrics) SetActiveConnection(serverID, transport string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	m.ActiveConnections.WithLabelValues(serverID, transport).Set(v)
}
