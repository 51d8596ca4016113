package entitlements

import (
	"time"

	"github.com/stocktally/stocktally/pkg/plans"
)

const DefaultTrialDuration = 14 * day

type TrialStartDenialReason string

const (
	TrialStartAllowed            TrialStartDenialReason = ""
	TrialStartDeniedOnTrial      TrialStartDenialReason = "already_on_trial"
	TrialStartDeniedSubscription TrialStartDenialReason = "subscription_active"
	TrialStartDeniedPlan         TrialStartDenialReason = "invalid_plan"
)

type TrialStartDecision struct {
	Allowed bool
	Reason  TrialStartDenialReason
	Plan    plans.Name
}

// EvaluateTrialStart decides whether a team may start a trial of requested.
// Only paid plans can be trialed, and never on top of a running trial or a
// live subscription.
func EvaluateTrialStart(state TrialState, subscriptionStatus string, requested string) TrialStartDecision {
	plan, ok := plans.Parse(requested)
	if !ok || !plans.IsPaid(plan) {
		return TrialStartDecision{Allowed: false, Reason: TrialStartDeniedPlan}
	}
	if state.IsOnTrial {
		return TrialStartDecision{Allowed: false, Reason: TrialStartDeniedOnTrial, Plan: plan}
	}
	if IsActiveSubscriptionStatus(subscriptionStatus) {
		return TrialStartDecision{Allowed: false, Reason: TrialStartDeniedSubscription, Plan: plan}
	}
	return TrialStartDecision{Allowed: true, Reason: TrialStartAllowed, Plan: plan}
}

func TrialStartError(reason TrialStartDenialReason) (code, message string) {
	switch reason {
	case TrialStartDeniedOnTrial:
		return "trial_already_running", "A trial is already running for this team"
	case TrialStartDeniedSubscription:
		return "trial_not_available", "Trial cannot be started while a subscription is active"
	case TrialStartDeniedPlan:
		return "invalid_plan", "Trials are available for the starter and pro plans only"
	default:
		return "", ""
	}
}

// TrialWindow returns when a trial started at now ends, truncated to whole
// seconds to match stored precision.
func TrialWindow(now time.Time, duration time.Duration) time.Time {
	if duration <= 0 {
		duration = DefaultTrialDuration
	}
	return now.Add(duration).Truncate(time.Second).UTC()
}
