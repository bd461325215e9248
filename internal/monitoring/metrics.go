// Package monitoring collects Prometheus metrics for the rendering
// pipeline: renders by strategy, failures by classified kind, recovery
// actions, and watchdog timeouts. Exposed on the standard /metrics
// endpoint via promhttp.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	RendersStarted   *prometheus.CounterVec
	RenderFailures   *prometheus.CounterVec
	RenderDuration   *prometheus.HistogramVec
	RecoveryActions  *prometheus.CounterVec
	WatchdogTimeouts prometheus.Counter
	ActiveArtifacts  prometheus.Gauge
	BundleFetches    *prometheus.CounterVec
	TransientRefs    prometheus.Gauge
}

// New creates and registers all metrics on the default registry
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers on a specific registerer; tests pass a private one
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RendersStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "canvasd_renders_started_total",
			Help: "Render launches by execution strategy",
		}, []string{"strategy"}),
		RenderFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "canvasd_render_failures_total",
			Help: "Classified render failures by kind",
		}, []string{"kind"}),
		RenderDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "canvasd_render_duration_seconds",
			Help:    "Time from loading start to terminating message",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),
		RecoveryActions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "canvasd_recovery_actions_total",
			Help: "Recovery actions by type (retry, fix, fallback)",
		}, []string{"action"}),
		WatchdogTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "canvasd_watchdog_timeouts_total",
			Help: "Loads terminated by the watchdog",
		}),
		ActiveArtifacts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "canvasd_active_artifacts",
			Help: "Artifacts with a live render session",
		}),
		BundleFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "canvasd_bundle_fetches_total",
			Help: "Bundle fetch outcomes",
		}, []string{"outcome"}),
		TransientRefs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "canvasd_transient_refs_live",
			Help: "Live transient document references",
		}),
	}
}
