package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "certverify"

var (
	once     sync.Once
	registry *prometheus.Registry
)

var (
	VerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Completed verification attempts by input source, outcome and trust level",
		},
		[]string{"source", "status", "trust"},
	)

	ChainCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_calls_total",
			Help:      "Registry lookups by outcome",
		},
		[]string{"outcome"},
	)

	ExtractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Identifier extraction attempts from uploaded documents",
		},
		[]string{"kind", "outcome"},
	)

	CompositionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compositions_total",
			Help:      "Certificate documents composed with a QR overlay",
		},
		[]string{"kind", "status"},
	)

	RenderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time spent rasterizing uploaded documents",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter",
		},
	)

	QueueMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_messages_total",
			Help:      "Queue messages processed by the worker",
		},
		[]string{"type", "status"},
	)
)

// Registry returns the process registry. Collectors are registered on the first call;
// recording before that is safe but nothing is exported.
func Registry() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			VerificationsTotal,
			ChainCallsTotal,
			ExtractionsTotal,
			CompositionsTotal,
			RenderDuration,
			RateLimitedTotal,
			QueueMessagesTotal,
		)
	})
	return registry
}
