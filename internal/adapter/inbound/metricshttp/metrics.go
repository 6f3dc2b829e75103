// Package metricshttp exposes the conductor's Prometheus metrics and a
// liveness endpoint over a dedicated HTTP listener (§AMBIENT STACK
// "Metrics").
package metricshttp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/acpconductor/conductor/internal/domain/pipeline"
)

// Metrics holds every Prometheus collector the conductor records to.
type Metrics struct {
	FramesForwardedTotal *prometheus.CounterVec
	PendingRequests      *prometheus.GaugeVec
	BridgeRequestsTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers the conductor's metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		FramesForwardedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "acp_conductor",
				Name:      "frames_forwarded_total",
				Help:      "Total frames the router forwarded, by direction and method.",
			},
			[]string{"direction", "method"},
		),
		PendingRequests: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "acp_conductor",
				Name:      "pending_requests",
				Help:      "Live pending-request count per pipeline hop.",
			},
			[]string{"component"},
		),
		BridgeRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "acp_conductor",
				Name:      "bridge_http_requests_total",
				Help:      "Total HTTP requests the MCP bridge served, by response status.",
			},
			[]string{"status"},
		),
	}
}

// OnForward implements router.Hooks.OnForward, recording one forwarded
// frame. wrapped is not currently its own label (successor-wrapping is an
// internal detail of proxied pipelines); it is accepted so Metrics.OnForward
// can be assigned directly to the hook field.
func (m *Metrics) OnForward(direction pipeline.Direction, method string, wrapped bool) {
	m.FramesForwardedTotal.WithLabelValues(direction.String(), method).Inc()
}

// SetPendingRequests records the live pending-request count for component.
func (m *Metrics) SetPendingRequests(component string, count int) {
	m.PendingRequests.WithLabelValues(component).Set(float64(count))
}

// ObserveBridgeStatus records one HTTP response the bridge returned.
func (m *Metrics) ObserveBridgeStatus(status int) {
	m.BridgeRequestsTotal.WithLabelValues(httpStatusLabel(status)).Inc()
}

func httpStatusLabel(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "other"
	}
}
