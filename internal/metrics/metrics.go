package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeliveriesTotal counts webhook delivery attempts by event name and
	// outcome ("success" or "failure"). Both the immediate retry path and
	// the queue worker increment it.
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "Webhook delivery attempts by event and outcome.",
	}, []string{"event", "outcome"})

	// DeliveryDuration observes the wall time of individual delivery
	// attempts.
	DeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_delivery_duration_seconds",
		Help:    "Duration of webhook delivery attempts.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event"})

	// EnqueuedTotal counts items escalated to the durable queue after the
	// immediate retry loop was exhausted.
	EnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_queue_enqueued_total",
		Help: "Webhooks escalated to the durable retry queue.",
	}, []string{"event"})
)
