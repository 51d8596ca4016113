package entitlements

import (
	"testing"
	"time"

	"github.com/stocktally/stocktally/pkg/plans"
)

func TestEvaluateTrialStart(t *testing.T) {
	ends := time.Now().Add(day)

	tests := []struct {
		name        string
		state       TrialState
		status      string
		requested   string
		wantAllowed bool
		wantReason  TrialStartDenialReason
	}{
		{name: "free team may trial pro", state: TrialState{Plan: plans.Free}, requested: "pro", wantAllowed: true},
		{name: "canceled subscription may trial", state: TrialState{Plan: plans.Free}, status: "canceled", requested: "starter", wantAllowed: true},
		{name: "free is not trialable", state: TrialState{Plan: plans.Free}, requested: "free", wantReason: TrialStartDeniedPlan},
		{name: "unknown plan", state: TrialState{Plan: plans.Free}, requested: "gold", wantReason: TrialStartDeniedPlan},
		{name: "already on trial", state: TrialState{IsOnTrial: true, TrialPlan: planPtr(plans.Pro), TrialEndsAt: &ends}, requested: "pro", wantReason: TrialStartDeniedOnTrial},
		{name: "active subscription", state: TrialState{Plan: plans.Starter}, status: "active", requested: "pro", wantReason: TrialStartDeniedSubscription},
		{name: "trialing subscription", state: TrialState{Plan: plans.Starter}, status: "trialing", requested: "pro", wantReason: TrialStartDeniedSubscription},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateTrialStart(tt.state, tt.status, tt.requested)
			if got.Allowed != tt.wantAllowed {
				t.Fatalf("allowed=%t, want %t", got.Allowed, tt.wantAllowed)
			}
			if got.Reason != tt.wantReason {
				t.Fatalf("reason=%q, want %q", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestTrialStartError(t *testing.T) {
	code, msg := TrialStartError(TrialStartDeniedSubscription)
	if code != "trial_not_available" || msg == "" {
		t.Fatalf("code=%q msg=%q", code, msg)
	}
	if code, msg := TrialStartError(TrialStartAllowed); code != "" || msg != "" {
		t.Fatalf("allowed should map to empty, got %q/%q", code, msg)
	}
}

func TestTrialWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := TrialWindow(now, 0); !got.Equal(now.Add(14 * day)) {
		t.Fatalf("TrialWindow default = %s", got)
	}
	if got := TrialWindow(now, 48*time.Hour); !got.Equal(now.Add(2 * day)) {
		t.Fatalf("TrialWindow custom = %s", got)
	}
	if got := TrialWindow(now.Add(750*time.Millisecond), time.Hour); !got.Equal(now.Add(time.Hour)) || got.Nanosecond() != 0 {
		t.Fatalf("TrialWindow sub-second = %s, want whole seconds", got)
	}
}

func TestIsActiveSubscriptionStatus(t *testing.T) {
	tests := map[string]bool{
		"active":     true,
		" Trialing ": true,
		"past_due":   false,
		"canceled":   false,
		"incomplete": false,
		"":           false,
	}
	for status, want := range tests {
		if got := IsActiveSubscriptionStatus(status); got != want {
			t.Fatalf("IsActiveSubscriptionStatus(%q) = %t, want %t", status, got, want)
		}
	}
}
