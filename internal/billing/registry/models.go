package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/stocktally/stocktally/pkg/entitlements"
	"github.com/stocktally/stocktally/pkg/plans"
)

// BillingInterval is the recurring interval of a team's base plan line item.
type BillingInterval string

const (
	BillingIntervalMonth BillingInterval = "month"
	BillingIntervalYear  BillingInterval = "year"
)

// ParseBillingInterval accepts the provider's recurring interval names.
func ParseBillingInterval(s string) (BillingInterval, bool) {
	switch BillingInterval(strings.ToLower(strings.TrimSpace(s))) {
	case BillingIntervalMonth:
		return BillingIntervalMonth, true
	case BillingIntervalYear:
		return BillingIntervalYear, true
	}
	return "", false
}

// Team is the entitlement record for one tenant.
type Team struct {
	ID                       string           `json:"id"`
	Name                     string           `json:"name"`
	Plan                     plans.Name       `json:"plan"`
	IsOnTrial                bool             `json:"is_on_trial"`
	TrialPlan                *plans.Name      `json:"trial_plan,omitempty"`
	TrialEndsAt              *time.Time       `json:"trial_ends_at,omitempty"`
	MaxWarehouses            int              `json:"max_warehouses"`
	ExtraUserSlots           int              `json:"extra_user_slots"`
	StripeCustomerID         *string          `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID     *string          `json:"stripe_subscription_id,omitempty"`
	StripeSubscriptionStatus *string          `json:"stripe_subscription_status,omitempty"`
	BillingInterval          *BillingInterval `json:"billing_interval,omitempty"`
	LastStripeEventAt        *time.Time       `json:"last_stripe_event_at,omitempty"`
	Version                  int64            `json:"version"`
	CreatedAt                time.Time        `json:"created_at"`
	UpdatedAt                time.Time        `json:"updated_at"`
}

// NewTeam returns a free team with no trial and no subscription.
func NewTeam(name string) *Team {
	return &Team{
		ID:            GenerateTeamID(),
		Name:          strings.TrimSpace(name),
		Plan:          plans.Free,
		MaxWarehouses: plans.FreeWarehouseFloor,
	}
}

// GenerateTeamID returns a team ID of the form "team_" followed by a ULID.
func GenerateTeamID() string {
	return "team_" + ulid.Make().String()
}

// TrialState projects the fields the entitlement resolver reads.
func (t *Team) TrialState() entitlements.TrialState {
	if t == nil {
		return entitlements.TrialState{Plan: plans.Free}
	}
	return entitlements.TrialState{
		Plan:           t.Plan,
		IsOnTrial:      t.IsOnTrial,
		TrialPlan:      t.TrialPlan,
		TrialEndsAt:    t.TrialEndsAt,
		ExtraUserSlots: t.ExtraUserSlots,
	}
}

// SubscriptionStatus returns the mirrored provider status, or "".
func (t *Team) SubscriptionStatus() string {
	if t == nil || t.StripeSubscriptionStatus == nil {
		return ""
	}
	return *t.StripeSubscriptionStatus
}

// HasActiveSubscription reports whether the team has a subscription ID and an
// active or trialing provider status.
func (t *Team) HasActiveSubscription() bool {
	if t == nil || t.StripeSubscriptionID == nil || *t.StripeSubscriptionID == "" {
		return false
	}
	return entitlements.IsActiveSubscriptionStatus(t.SubscriptionStatus())
}

// ClearTrial resets all trial fields together.
func (t *Team) ClearTrial() {
	t.IsOnTrial = false
	t.TrialPlan = nil
	t.TrialEndsAt = nil
}

// Clone returns a deep copy.
func (t *Team) Clone() *Team {
	if t == nil {
		return nil
	}
	c := *t
	if t.TrialPlan != nil {
		p := *t.TrialPlan
		c.TrialPlan = &p
	}
	c.TrialEndsAt = cloneTime(t.TrialEndsAt)
	c.LastStripeEventAt = cloneTime(t.LastStripeEventAt)
	c.StripeCustomerID = cloneString(t.StripeCustomerID)
	c.StripeSubscriptionID = cloneString(t.StripeSubscriptionID)
	c.StripeSubscriptionStatus = cloneString(t.StripeSubscriptionStatus)
	if t.BillingInterval != nil {
		bi := *t.BillingInterval
		c.BillingInterval = &bi
	}
	return &c
}

// Validate checks the structural invariants every stored record must hold.
// The per-plan seat cap is enforced by callers, not here.
func (t *Team) Validate() error {
	if t == nil {
		return fmt.Errorf("team is nil")
	}
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("team id is required")
	}
	if _, ok := plans.Parse(string(t.Plan)); !ok {
		return fmt.Errorf("unknown plan %q", t.Plan)
	}
	trialSet := []bool{t.IsOnTrial, t.TrialPlan != nil, t.TrialEndsAt != nil}
	for _, set := range trialSet[1:] {
		if set != trialSet[0] {
			return fmt.Errorf("trial fields must be all set or all cleared")
		}
	}
	if t.ExtraUserSlots < 0 {
		return fmt.Errorf("extra user slots must be >= 0, got %d", t.ExtraUserSlots)
	}
	if t.ExtraUserSlots > 0 && !t.HasActiveSubscription() {
		return fmt.Errorf("extra user slots require an active subscription")
	}
	if t.MaxWarehouses < plans.FreeWarehouseFloor {
		return fmt.Errorf("max warehouses must be >= %d, got %d", plans.FreeWarehouseFloor, t.MaxWarehouses)
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
