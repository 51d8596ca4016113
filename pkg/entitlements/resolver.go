package entitlements

import (
	"slices"
	"time"

	"github.com/stocktally/stocktally/pkg/plans"
)

// Entitlement is the resolved, authoritative view of what a team may do.
type Entitlement struct {
	EffectivePlan          plans.Name  `json:"effectivePlan"`
	EffectiveMaxWarehouses int         `json:"effectiveMaxWarehouses"`
	Features               []string    `json:"features"`
	Plan                   plans.Name  `json:"plan"`
	IsOnTrial              bool        `json:"isOnTrial"`
	TrialPlan              *plans.Name `json:"trialPlan,omitempty"`
	TrialEndsAt            *time.Time  `json:"trialEndsAt,omitempty"`
	TrialDaysRemaining     int         `json:"trialDaysRemaining"`
	TrialExpired           bool        `json:"trialExpired"`
	ExtraUserSlots         int         `json:"extraUserSlots"`
}

// WarehouseCheck is the answer to "may this team create another warehouse?".
type WarehouseCheck struct {
	CanCreate bool       `json:"canCreate"`
	Limit     int        `json:"limit"`
	Current   int        `json:"current"`
	Plan      plans.Name `json:"plan"`
}

// Resolve computes the effective entitlement for state at now. It never
// fails: anything it cannot make sense of resolves to the free plan.
func Resolve(state TrialState, now time.Time) Entitlement {
	effective := EffectivePlanName(state, now)
	limits := plans.LimitsFor(effective)
	status := Status(state, now)

	ent := Entitlement{
		EffectivePlan:          effective,
		EffectiveMaxWarehouses: max(limits.MaxWarehouses, plans.FreeWarehouseFloor),
		Features:               limits.Features,
		Plan:                   plans.Normalize(string(state.Plan)),
		IsOnTrial:              state.IsOnTrial,
		TrialEndsAt:            cloneTime(state.TrialEndsAt),
		TrialDaysRemaining:     status.DaysRemaining,
		TrialExpired:           status.Expired,
		ExtraUserSlots:         max(state.ExtraUserSlots, 0),
	}
	if state.TrialPlan != nil {
		tp := *state.TrialPlan
		ent.TrialPlan = &tp
	}
	return ent
}

// CanCreateWarehouse evaluates current against the effective warehouse limit.
// This is the server-side authority; any cached limit elsewhere is advisory.
func (e Entitlement) CanCreateWarehouse(current int) WarehouseCheck {
	if current < 0 {
		current = 0
	}
	return WarehouseCheck{
		CanCreate: current < e.EffectiveMaxWarehouses,
		Limit:     e.EffectiveMaxWarehouses,
		Current:   current,
		Plan:      e.EffectivePlan,
	}
}

// HasFeature reports whether the effective plan includes feature.
func (e Entitlement) HasFeature(feature string) bool {
	return slices.Contains(e.Features, feature)
}

// Resolver resolves entitlements against an injectable clock.
type Resolver struct {
	now func() time.Time
}

// NewResolver creates a Resolver. A nil clock uses time.Now in UTC.
func NewResolver(now func() time.Time) *Resolver {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Resolver{now: now}
}

// Resolve resolves state at the resolver's current time.
func (r *Resolver) Resolve(state TrialState) Entitlement {
	if r == nil {
		return Resolve(state, time.Now().UTC())
	}
	return Resolve(state, r.now())
}

// Now returns the resolver's current time.
func (r *Resolver) Now() time.Time {
	if r == nil || r.now == nil {
		return time.Now().UTC()
	}
	return r.now()
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
