// Package entitlements resolves what a team is allowed to do right now from
// its stored plan, trial state, and subscription mirror.
//
// Everything in this package is a pure function of its inputs and the
// supplied time. Callers own persistence.
package entitlements

import (
	"time"

	"github.com/stocktally/stocktally/pkg/plans"
)

const day = 24 * time.Hour

// TrialState is the slice of a team record the trial clock and resolver read.
type TrialState struct {
	Plan           plans.Name
	IsOnTrial      bool
	TrialPlan      *plans.Name
	TrialEndsAt    *time.Time
	ExtraUserSlots int
}

// IsExpired reports whether the team's trial window has lapsed at now.
// Once true for a given TrialEndsAt it stays true for every later now.
func IsExpired(state TrialState, now time.Time) bool {
	return state.IsOnTrial && state.TrialEndsAt != nil && now.After(*state.TrialEndsAt)
}

// DaysRemaining returns the whole days left in the trial, rounding partial
// days up. Returns 0 when not on trial or when the trial has lapsed.
func DaysRemaining(state TrialState, now time.Time) int {
	if !state.IsOnTrial || state.TrialEndsAt == nil {
		return 0
	}
	remaining := state.TrialEndsAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int((remaining + day - 1) / day)
}

// TrialStatus bundles DaysRemaining and IsExpired.
type TrialStatus struct {
	DaysRemaining int  `json:"daysRemaining"`
	Expired       bool `json:"expired"`
}

// Status returns the trial clock reading at now.
func Status(state TrialState, now time.Time) TrialStatus {
	return TrialStatus{
		DaysRemaining: DaysRemaining(state, now),
		Expired:       IsExpired(state, now),
	}
}

// EffectivePlanName returns the plan that governs limits at now: the trial
// plan while a trial is running, otherwise the stored plan. Malformed values
// degrade to plans.Free.
func EffectivePlanName(state TrialState, now time.Time) plans.Name {
	if state.IsOnTrial && !IsExpired(state, now) && state.TrialPlan != nil {
		if trialPlan, ok := plans.Parse(string(*state.TrialPlan)); ok {
			return trialPlan
		}
	}
	return plans.Normalize(string(state.Plan))
}
