// Package metrics exposes the Prometheus instruments shared across the
// service. Instruments are registered once at init via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "guestops"

var (
	// InboundMessages counts guest messages accepted by channel.
	InboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbound_messages_total",
		Help:      "Inbound guest messages accepted, by channel.",
	}, []string{"channel"})

	// OutboundMessages counts dispatch outcomes by channel and result.
	OutboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbound_messages_total",
		Help:      "Outbound dispatch attempts, by channel and result.",
	}, []string{"channel", "result"})

	// Escalations counts threads flagged for staff, by reason.
	Escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escalations_total",
		Help:      "Threads escalated to needs_human, by reason.",
	}, []string{"reason"})

	// RemindersSent counts reminder sends by rule.
	RemindersSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reminders_sent_total",
		Help:      "Reminder messages dispatched, by rule.",
	}, []string{"rule"})

	// CreditDebits counts ledger debit outcomes.
	CreditDebits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credit_debits_total",
		Help:      "Ledger debit attempts, by billing type and result.",
	}, []string{"billing_type", "result"})

	// WebhookDuration observes webhook handler latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "webhook_duration_seconds",
		Help:      "Webhook handler latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"handler"})
)
