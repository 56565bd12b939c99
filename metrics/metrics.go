// Package metrics holds the Prometheus collectors shared by the rental services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rentflow",
			Subsystem: "positions",
			Name:      "events_total",
			Help:      "Total number of lifecycle events emitted, by event type.",
		},
		[]string{"type"},
	)

	paymentFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rentflow",
			Subsystem: "payments",
			Name:      "failures_total",
			Help:      "Outbound payments that could not be delivered, by operation.",
		},
		[]string{"operation"},
	)

	payments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rentflow",
			Subsystem: "payments",
			Name:      "amount_total",
			Help:      "Sum of delivered outbound payments in base units, by operation.",
		},
		[]string{"operation"},
	)

	recorderFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rentflow",
			Subsystem: "timeline",
			Name:      "record_failures_total",
			Help:      "Events that were committed in memory but could not be journaled.",
		},
	)

	outboxMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rentflow",
			Subsystem: "outbox",
			Name:      "messages_total",
			Help:      "Outbox messages handled by the relay, by resulting status.",
		},
		[]string{"status"},
	)
)

func init() {
	Registry.MustRegister(transitions, paymentFailures, payments, recorderFailures, outboxMessages)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordEvent counts one emitted lifecycle event.
func RecordEvent(eventType string) {
	transitions.WithLabelValues(eventType).Inc()
}

// RecordPayment counts a delivered payment of amount base units.
func RecordPayment(operation string, amount uint64) {
	payments.WithLabelValues(operation).Add(float64(amount))
}

// RecordPaymentFailure counts an undelivered payment.
func RecordPaymentFailure(operation string) {
	paymentFailures.WithLabelValues(operation).Inc()
}

// RecordJournalFailure counts an event that the recorder rejected.
func RecordJournalFailure() {
	recorderFailures.Inc()
}

// RecordOutbox counts one outbox message leaving the relay with status.
func RecordOutbox(status string) {
	outboxMessages.WithLabelValues(status).Inc()
}
