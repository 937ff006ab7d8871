// Package metrics registers the gateway's Prometheus collectors, replacing
// the teacher's hand-rolled fake-metrics text generator
// (internal/server/server.go's handleMetrics) with real counters and
// gauges backed by github.com/prometheus/client_golang.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every collector the gateway exposes at /metrics.
type Registry struct {
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	EndpointHealth     *prometheus.GaugeVec
	EndpointCooldowns  *prometheus.CounterVec
	DedupQueueDepth    prometheus.Gauge
	DebounceQueueDepth prometheus.Gauge
	RateLimitHits      *prometheus.CounterVec
	SessionsActive     prometheus.Gauge
}

// New registers all collectors against a fresh, process-local registry
// rather than prometheus.DefaultRegisterer, so that multiple Registry
// instances (one per test, one per gateway process) never collide.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		Registerer: reg,
		Gatherer:   reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_gateway_requests_total",
			Help: "Total chat completion requests by terminal error kind (empty for success).",
		}, []string{"kind"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agent_gateway_request_duration_seconds",
			Help:    "Chat completion request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint_id"}),
		EndpointHealth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agent_gateway_endpoint_health_score",
			Help: "Current health score (0-1) per upstream endpoint.",
		}, []string{"endpoint_id"}),
		EndpointCooldowns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_gateway_endpoint_cooldowns_total",
			Help: "Total number of times an endpoint entered cooldown, by error kind.",
		}, []string{"endpoint_id", "kind"}),
		DedupQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agent_gateway_dedup_entries",
			Help: "Current number of entries held in the inbound dedup window.",
		}),
		DebounceQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agent_gateway_debounce_pending_senders",
			Help: "Current number of senders with a pending debounce queue.",
		}),
		RateLimitHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_gateway_rate_limit_hits_total",
			Help: "Total requests rejected by the Chat API sliding-window rate limiter.",
		}, []string{"reason"}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agent_gateway_sessions_active",
			Help: "Current number of sessions reported as active.",
		}),
	}
}

// ObserveRequest records the terminal outcome and latency of a Chat API
// request.
func (r *Registry) ObserveRequest(endpointID, kind string, seconds float64) {
	r.RequestsTotal.WithLabelValues(kind).Inc()
	if endpointID != "" {
		r.RequestDuration.WithLabelValues(endpointID).Observe(seconds)
	}
}

// SetEndpointHealth updates the gauge for one endpoint's current score.
func (r *Registry) SetEndpointHealth(endpointID string, score float64) {
	r.EndpointHealth.WithLabelValues(endpointID).Set(score)
}

// ObserveCooldown increments the cooldown counter for an endpoint/kind pair.
func (r *Registry) ObserveCooldown(endpointID, kind string) {
	r.EndpointCooldowns.WithLabelValues(endpointID, kind).Inc()
}
