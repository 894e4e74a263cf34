// Package metrics exposes engine counters in Prometheus format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "localcompletion"

// Request outcomes
const (
	OutcomeDisabled      = "disabled"
	OutcomeCacheHit      = "cache_hit"
	OutcomeSkippedWidget = "skipped_widget"
	OutcomeSkippedReduce = "skipped_reduce_calls"
	OutcomeCompleted     = "completed"
	OutcomeTrimmed       = "trimmed"
	OutcomeEmpty         = "empty"
	OutcomeCancelled     = "cancelled"
	OutcomeFailed        = "failed"
)

// Collector records what the engine does with each request.
// A nil *Collector discards everything.
type Collector struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	requestLatency prometheus.Histogram
	streamDuration *prometheus.HistogramVec
	fragments      prometheus.Counter
	historySize    prometheus.Gauge
}

// New creates a Collector with its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Completion requests by outcome.",
		}, []string{"outcome"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from request to suggestion, including debounce.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		streamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Duration of streamed generations by final state.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"state"}),
		fragments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_fragments_total",
			Help:      "Fragments consumed from the completion endpoint.",
		}),
		historySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_records",
			Help:      "Generations currently held in the completion history.",
		}),
	}
	c.registry.MustRegister(
		c.requests,
		c.requestLatency,
		c.streamDuration,
		c.fragments,
		c.historySize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry to serve
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveRequest counts one request and its latency
func (c *Collector) ObserveRequest(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(outcome).Inc()
	c.requestLatency.Observe(d.Seconds())
}

// ObserveStream records one generation
func (c *Collector) ObserveStream(state string, d time.Duration, fragments int) {
	if c == nil {
		return
	}
	c.streamDuration.WithLabelValues(state).Observe(d.Seconds())
	c.fragments.Add(float64(fragments))
}

// SetHistorySize reports the current number of history records
func (c *Collector) SetHistorySize(n int) {
	if c == nil {
		return
	}
	c.historySize.Set(float64(n))
}
