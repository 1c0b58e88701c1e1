// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WebhookOutcomes counts handled webhook deliveries by outcome.
var WebhookOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "whatsbot",
		Subsystem: "webhook",
		Name:      "outcomes_total",
		Help:      "Handled inbound deliveries by outcome",
	},
	[]string{"outcome"},
)

// GenerationLatency observes chat completion latency.
var GenerationLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "whatsbot",
		Subsystem: "dialogue",
		Name:      "generation_latency_seconds",
		Help:      "Latency of reply generation",
		Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 8, 10, 15, 30},
	},
	[]string{"status"},
)

// Replies counts parsed replies by kind.
var Replies = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "whatsbot",
		Subsystem: "dialogue",
		Name:      "replies_total",
		Help:      "Generated replies by control kind",
	},
	[]string{"kind"},
)

// PaymentTransitions counts payment flow transitions.
var PaymentTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "whatsbot",
		Subsystem: "payment",
		Name:      "transitions_total",
		Help:      "Payment flow transitions by event",
	},
	[]string{"event"},
)

// AdminCommands counts recognized admin commands.
var AdminCommands = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "whatsbot",
		Subsystem: "admin",
		Name:      "commands_total",
		Help:      "Admin commands by name",
	},
	[]string{"command"},
)

func init() {
	prometheus.MustRegister(WebhookOutcomes, GenerationLatency, Replies, PaymentTransitions, AdminCommands)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
