package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WorkerMetrics tracks the inbox loop and worker pool.
type WorkerMetrics struct {
	PollsTotal      *prometheus.CounterVec
	MessagesClaimed prometheus.Counter
	MessagesSkipped prometheus.Counter
	InFlight        prometheus.Gauge
}

// NewWorkerMetrics registers worker metrics on reg.
func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	factory := promauto.With(reg)
	return &WorkerMetrics{
		PollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warranty_inbox_polls_total",
				Help: "Inbox polls by status",
			},
			[]string{"status"},
		),
		MessagesClaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "warranty_messages_claimed_total",
			Help: "Messages claimed for processing",
		}),
		MessagesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "warranty_messages_skipped_total",
			Help: "Messages skipped because another worker holds the claim",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "warranty_messages_in_flight",
			Help: "Messages currently being processed",
		}),
	}
}
