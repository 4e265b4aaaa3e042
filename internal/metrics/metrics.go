package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector defines the interface for metrics collection
type Collector interface {
	// Call session metrics
	CallStarted(direction string)
	CallEnded(outcome string, duration time.Duration)
	CandidateQueued()
	CandidatesDrained(n int)
	MediaFailure(reason string)

	// Cache reconciliation metrics
	EventReconciled(kind string)
	OptimisticFailed(kind string)

	// Transport metrics
	TransportReconnect()
	FrameReceived(kind string)
	FrameSent(kind string)

	// Outbox metrics
	OutboxDepth(n int)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) CallStarted(string)              {}
func (Nop) CallEnded(string, time.Duration) {}
func (Nop) CandidateQueued()                {}
func (Nop) CandidatesDrained(int)           {}
func (Nop) MediaFailure(string)             {}
func (Nop) EventReconciled(string)          {}
func (Nop) OptimisticFailed(string)         {}
func (Nop) TransportReconnect()             {}
func (Nop) FrameReceived(string)            {}
func (Nop) FrameSent(string)                {}
func (Nop) OutboxDepth(int)                 {}

// PrometheusCollector implements the Collector interface using Prometheus
type PrometheusCollector struct {
	// Call metrics
	callsStarted  *prometheus.CounterVec
	callsEnded    *prometheus.CounterVec
	callDuration  prometheus.Histogram
	iceQueued     prometheus.Counter
	iceDrained    prometheus.Counter
	mediaFailures *prometheus.CounterVec

	// Cache metrics
	reconciled         *prometheus.CounterVec
	optimisticFailures *prometheus.CounterVec

	// Transport metrics
	reconnects     prometheus.Counter
	framesReceived *prometheus.CounterVec
	framesSent     *prometheus.CounterVec

	outboxDepth prometheus.Gauge
}

// NewPrometheusCollector registers the collectors on reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	f := promauto.With(reg)
	return &PrometheusCollector{
		callsStarted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_calls_started_total",
				Help: "Total number of call sessions created",
			},
			[]string{"direction"},
		),

		callsEnded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_calls_ended_total",
				Help: "Total number of call sessions torn down",
			},
			[]string{"outcome"},
		),

		callDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatsync_call_duration_seconds",
			Help:    "Connected duration of ended calls",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
		}),

		iceQueued: f.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_ice_candidates_queued_total",
			Help: "Remote ICE candidates queued before the remote description was applied",
		}),

		iceDrained: f.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_ice_candidates_drained_total",
			Help: "Queued ICE candidates applied after the remote description",
		}),

		mediaFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_media_failures_total",
				Help: "Local media acquisition failures",
			},
			[]string{"reason"},
		),

		reconciled: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_cache_events_reconciled_total",
				Help: "Server events merged into the cache",
			},
			[]string{"kind"},
		),

		optimisticFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_optimistic_failures_total",
				Help: "Optimistic mutations rolled back",
			},
			[]string{"kind"},
		),

		reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_transport_reconnects_total",
			Help: "Transport reconnect attempts",
		}),

		framesReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_transport_frames_received_total",
				Help: "Inbound transport frames by event",
			},
			[]string{"event"},
		),

		framesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_transport_frames_sent_total",
				Help: "Outbound transport frames by event",
			},
			[]string{"event"},
		),

		outboxDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "chatsync_outbox_depth",
			Help: "Mutations waiting for server confirmation",
		}),
	}
}

func (c *PrometheusCollector) CallStarted(direction string) {
	c.callsStarted.WithLabelValues(direction).Inc()
}

func (c *PrometheusCollector) CallEnded(outcome string, duration time.Duration) {
	c.callsEnded.WithLabelValues(outcome).Inc()
	if duration > 0 {
		c.callDuration.Observe(duration.Seconds())
	}
}

func (c *PrometheusCollector) CandidateQueued() {
	c.iceQueued.Inc()
}

func (c *PrometheusCollector) CandidatesDrained(n int) {
	c.iceDrained.Add(float64(n))
}

func (c *PrometheusCollector) MediaFailure(reason string) {
	c.mediaFailures.WithLabelValues(reason).Inc()
}

func (c *PrometheusCollector) EventReconciled(kind string) {
	c.reconciled.WithLabelValues(kind).Inc()
}

func (c *PrometheusCollector) OptimisticFailed(kind string) {
	c.optimisticFailures.WithLabelValues(kind).Inc()
}

func (c *PrometheusCollector) TransportReconnect() {
	c.reconnects.Inc()
}

func (c *PrometheusCollector) FrameReceived(kind string) {
	c.framesReceived.WithLabelValues(kind).Inc()
}

func (c *PrometheusCollector) FrameSent(kind string) {
	c.framesSent.WithLabelValues(kind).Inc()
}

func (c *PrometheusCollector) OutboxDepth(n int) {
	c.outboxDepth.Set(float64(n))
}
