package bmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TeamsByEffectivePlan tracks the number of teams resolving to each plan.
	TeamsByEffectivePlan = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stocktally",
		Subsystem: "billing",
		Name:      "teams_by_effective_plan",
		Help:      "Number of teams by effective plan (trial-aware).",
	}, []string{"plan"})

	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stocktally",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stocktally",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// SubscriptionEventsTotal counts subscription events by outcome
	// (applied, stale, no_team, unknown_team, ignored).
	SubscriptionEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stocktally",
		Subsystem: "billing",
		Name:      "subscription_events_total",
		Help:      "Subscription webhook events by outcome.",
	}, []string{"outcome"})

	// AddonUpdatesTotal counts extra user slot changes by outcome.
	AddonUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stocktally",
		Subsystem: "billing",
		Name:      "addon_updates_total",
		Help:      "Extra user slot updates by outcome.",
	}, []string{"outcome"})

	// TrialDowngradesTotal counts teams downgraded by the expiry sweeper.
	TrialDowngradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stocktally",
		Subsystem: "billing",
		Name:      "trial_downgrades_total",
		Help:      "Teams downgraded to free after their trial expired.",
	})
)
