// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "support_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	// TicketSocketsActive tracks open ticket chat sockets on the backend.
	TicketSocketsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_ticket_sockets_active",
			Help: "Number of open ticket chat sockets",
		},
	)

	// ChatMessagesTotal tracks chat messages stored, by sender role.
	ChatMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_messages_total",
			Help: "Total ticket chat messages stored",
		},
		[]string{"sender_role"},
	)

	// ChatDeletesTotal tracks soft-deleted chat messages.
	ChatDeletesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "support_chat_deletes_total",
			Help: "Total ticket chat messages deleted",
		},
	)

	// TicketTransitionsTotal tracks lifecycle transitions.
	TicketTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_ticket_transitions_total",
			Help: "Ticket lifecycle transitions",
		},
		[]string{"to"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
}

// IncrementTicketSockets increments the open socket count.
func IncrementTicketSockets() {
	TicketSocketsActive.Inc()
}

// DecrementTicketSockets decrements the open socket count.
func DecrementTicketSockets() {
	TicketSocketsActive.Dec()
}
