// Package metrics exposes the engine's operational counters via Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the engine-level instruments. Each process carries its
// own registry so tests never trip duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	StreamEvents    prometheus.Counter
	MalformedEvents prometheus.Counter
	MergesApplied   prometheus.Counter
	PendingEdges    prometheus.Gauge
	DanglingDropped prometheus.Counter
	PatchesSent     prometheus.Counter
	PatchFailures   prometheus.Counter
	Reconnects      prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		StreamEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "redline_stream_events_total",
			Help: "Stream event frames consumed.",
		}),
		MalformedEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "redline_stream_malformed_events_total",
			Help: "Frames dropped because they failed to parse.",
		}),
		MergesApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "redline_graph_merges_total",
			Help: "graph_update batches merged into the store.",
		}),
		PendingEdges: factory.NewGauge(prometheus.GaugeOpts{
			Name: "redline_graph_pending_edges",
			Help: "Edges buffered waiting for a missing endpoint.",
		}),
		DanglingDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "redline_graph_dangling_edges_dropped_total",
			Help: "Pending edges discarded after the retention bound.",
		}),
		PatchesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "redline_patches_sent_total",
			Help: "Outbound mutation patches attempted.",
		}),
		PatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "redline_patch_failures_total",
			Help: "Outbound mutation patches that failed.",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "redline_stream_reconnects_total",
			Help: "Stream reconnection attempts.",
		}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
