// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PublishTotal counts publish batches by persistence class and outcome.
	PublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topograph_publish_total",
		Help: "Publish batches processed, by persistence class and outcome.",
	}, []string{"class", "outcome"})

	// SearchTotal counts direct searches by outcome.
	SearchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topograph_search_total",
		Help: "Direct searches executed, by outcome.",
	}, []string{"outcome"})

	// SubscriptionsActive tracks the number of live subscriptions.
	SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "topograph_subscriptions_active",
		Help: "Currently registered subscriptions.",
	})

	// SubscriptionEvaluations counts standing-query re-evaluations.
	SubscriptionEvaluations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topograph_subscription_evaluations_total",
		Help: "Subscription re-evaluations triggered by mutations.",
	})

	// SubscriptionDeliveries counts deltas handed to delivery functions.
	SubscriptionDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topograph_subscription_deliveries_total",
		Help: "Deltas delivered to subscribers.",
	})
)

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)
