// Package metrics holds the Prometheus counters exposed at /metrics,
// following the teacher's convention of a single struct of pre-registered
// collectors passed by reference into every component that needs to
// increment one.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the strictly-increasing counter set spec.md §4.4 requires:
// received, sent, dedup-suppressed, no-config-suppressed, chat-errors,
// queue-processed, chat-rate-limits.
type Metrics struct {
	Received           prometheus.Counter
	Sent               prometheus.Counter
	DedupSuppressed    prometheus.Counter
	NoConfigSuppressed prometheus.Counter
	ChatErrors         prometheus.Counter
	QueueProcessed     prometheus.Counter
	ChatRateLimits     prometheus.Counter

	ProcessDuration prometheus.Histogram

	Registry *prometheus.Registry
}

// New creates and registers the counter set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertrelay_received_total",
			Help: "Total canonical alerts accepted by the processor.",
		}),
		Sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertrelay_sent_total",
			Help: "Total chat messages emitted (created or edited).",
		}),
		DedupSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertrelay_suppressed_dedup_total",
			Help: "Total alerts suppressed by the dedup gate.",
		}),
		NoConfigSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertrelay_suppressed_no_config_total",
			Help: "Total alerts suppressed for lacking a matching rule.",
		}),
		ChatErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertrelay_chat_errors_total",
			Help: "Total chat API errors encountered while emitting alerts.",
		}),
		QueueProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertrelay_queue_processed_total",
			Help: "Total queue messages successfully processed and deleted.",
		}),
		ChatRateLimits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertrelay_chat_rate_limits_total",
			Help: "Total times the chat client hit a rate limit.",
		}),
		ProcessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertrelay_process_duration_seconds",
			Help:    "Time spent processing a single canonical alert end to end.",
			Buckets: prometheus.DefBuckets,
		}),
		Registry: reg,
	}

	reg.MustRegister(
		m.Received, m.Sent, m.DedupSuppressed, m.NoConfigSuppressed,
		m.ChatErrors, m.QueueProcessed, m.ChatRateLimits, m.ProcessDuration,
	)
	return m
}
