// Package metrics registers the Prometheus series named in SPEC_FULL.md
// §4's domain-stack wiring: session count, RPC latency, jitter-buffer
// stats, discovery accept/drop, and audio-bus drops.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric this module exposes. Exported fields are
// updated directly by their callers; only SessionCount is updated anywhere
// in this module (by internal/server), the other series stay unrecorded.
type Registry struct {
	SessionCount prometheus.Gauge

	RPCLatency *prometheus.HistogramVec

	JitterTargetDepth *prometheus.GaugeVec
	JitterLost        *prometheus.CounterVec
	JitterLate        *prometheus.CounterVec
	JitterDuplicate   *prometheus.CounterVec

	DiscoveryAccepted prometheus.Counter
	DiscoveryDropped  *prometheus.CounterVec

	AudioBusDropped prometheus.Counter
}

// New registers every metric against reg (use prometheus.NewRegistry for
// an isolated registry in tests, or prometheus.DefaultRegisterer in
// production).
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		SessionCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "xiaolink",
			Name:      "sessions_active",
			Help:      "Number of currently registered sessions.",
		}),
		RPCLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "xiaolink",
			Name:      "rpc_latency_seconds",
			Help:      "RPC round-trip latency by command.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		JitterTargetDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "xiaolink",
			Name:      "jitter_target_depth",
			Help:      "Current adaptive jitter buffer target depth.",
		}, []string{"session"}),
		JitterLost: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xiaolink",
			Name:      "jitter_lost_total",
			Help:      "Packets inferred lost from sequence gaps.",
		}, []string{"session"}),
		JitterLate: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xiaolink",
			Name:      "jitter_late_total",
			Help:      "Packets dropped for arriving too late.",
		}, []string{"session"}),
		JitterDuplicate: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xiaolink",
			Name:      "jitter_duplicate_total",
			Help:      "Packets dropped as duplicates.",
		}, []string{"session"}),
		DiscoveryAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "xiaolink",
			Name:      "discovery_accepted_total",
			Help:      "Discovery requests accepted and answered.",
		}),
		DiscoveryDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xiaolink",
			Name:      "discovery_dropped_total",
			Help:      "Discovery requests dropped, by reason.",
		}, []string{"reason"}),
		AudioBusDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "xiaolink",
			Name:      "audio_bus_dropped_total",
			Help:      "Audio frames dropped because a channel was full.",
		}),
	}
}

// Serve starts an HTTP server exposing /metrics on addr, blocking until the
// server fails and returning that error. The caller has no handle to stop
// it.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
