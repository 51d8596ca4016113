package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stocktally/stocktally/internal/billing/bmetrics"
	"github.com/stocktally/stocktally/internal/billing/registry"
	berrors "github.com/stocktally/stocktally/internal/errors"
	"github.com/stocktally/stocktally/pkg/entitlements"
	"github.com/stocktally/stocktally/pkg/plans"
)

// TeamStore is the slice of the team registry the billing components use.
type TeamStore interface {
	Get(ctx context.Context, id string) (*registry.Team, error)
	Mutate(ctx context.Context, id string, fn registry.MutateFunc) (*registry.Team, bool, error)
	ListExpiredTrials(ctx context.Context, now time.Time) ([]*registry.Team, error)
}

// Outcome describes what Apply did with an event.
type Outcome string

const (
	OutcomeApplied     Outcome = "applied"
	OutcomeStale       Outcome = "stale"
	OutcomeSuperseded  Outcome = "superseded"
	OutcomeNoTeam      Outcome = "no_team"
	OutcomeUnknownTeam Outcome = "unknown_team"
	OutcomeIgnored     Outcome = "ignored"
)

// Synchronizer mirrors Stripe subscription state onto team records.
type Synchronizer struct {
	store  TeamStore
	prices Prices
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(store TeamStore, prices Prices) *Synchronizer {
	return &Synchronizer{store: store, prices: prices}
}

// ApplySubscriptionChanged re-derives the team's billing fields from a
// created/updated subscription. It reports whether the add-on quantity had
// to be clamped to the plan's seat cap.
func ApplySubscriptionChanged(t *registry.Team, ev SubscriptionChanged, prices Prices) (clamped bool) {
	sub := &ev.Subscription
	active := entitlements.IsActiveSubscriptionStatus(sub.Status)
	addon, base := sub.SplitItems(prices.ExtraUser)

	plan := plans.Free
	var interval *registry.BillingInterval
	slots := 0
	if active {
		plan = prices.resolvePlan(sub, base)
		for _, item := range base {
			if bi, ok := registry.ParseBillingInterval(item.Interval()); ok {
				interval = &bi
				break
			}
		}
		if addon != nil && addon.Quantity > 0 {
			slots = int(addon.Quantity)
			if limit := plans.ExtraUserSlotCap(plan); slots > limit {
				slots = limit
				clamped = true
			}
		}
	}

	t.Plan = plan
	t.MaxWarehouses = plans.MaxWarehouses(plan)
	t.ExtraUserSlots = slots
	t.BillingInterval = interval
	t.ClearTrial()
	t.StripeSubscriptionID = registry.StringPtr(sub.ID)
	t.StripeSubscriptionStatus = registry.StringPtr(entitlements.NormalizeStatus(sub.Status))
	if sub.Customer != "" {
		t.StripeCustomerID = registry.StringPtr(sub.Customer)
	}
	stampEvent(t, ev.EventMeta)
	return clamped
}

// ApplySubscriptionDeleted drops the team back to the free plan.
func ApplySubscriptionDeleted(t *registry.Team, ev SubscriptionDeleted) {
	canceled := entitlements.StatusCanceled
	t.Plan = plans.Free
	t.MaxWarehouses = plans.FreeWarehouseFloor
	t.ExtraUserSlots = 0
	t.BillingInterval = nil
	t.ClearTrial()
	t.StripeSubscriptionID = nil
	t.StripeSubscriptionStatus = &canceled
	if ev.Subscription.Customer != "" {
		t.StripeCustomerID = registry.StringPtr(ev.Subscription.Customer)
	}
	stampEvent(t, ev.EventMeta)
}

func stampEvent(t *registry.Team, meta EventMeta) {
	if meta.Created.IsZero() {
		return
	}
	created := meta.Created
	t.LastStripeEventAt = &created
}

// isStale reports whether an event was created before the last one applied.
func isStale(t *registry.Team, meta EventMeta) bool {
	if t.LastStripeEventAt == nil || meta.Created.IsZero() {
		return false
	}
	return meta.Created.Before(*t.LastStripeEventAt)
}

// alreadyCanceled reports whether a delete at or before meta was already
// applied. A redelivered delete must not clear a trial started since.
func alreadyCanceled(t *registry.Team, meta EventMeta) bool {
	if t.StripeSubscriptionID != nil || t.LastStripeEventAt == nil || meta.Created.IsZero() {
		return false
	}
	if t.StripeSubscriptionStatus == nil || *t.StripeSubscriptionStatus != entitlements.StatusCanceled {
		return false
	}
	return !t.LastStripeEventAt.Before(meta.Created)
}

// Apply performs one read-compute-write for a decoded event.
func (s *Synchronizer) Apply(ctx context.Context, event Event) (Outcome, error) {
	var (
		sub  *Subscription
		meta = event.Meta()
	)
	switch ev := event.(type) {
	case SubscriptionChanged:
		sub = &ev.Subscription
	case SubscriptionDeleted:
		sub = &ev.Subscription
	default:
		log.Info().
			Str("type", meta.Type).
			Str("event_id", meta.ID).
			Msg("Stripe webhook ignored (unhandled type)")
		return s.record(OutcomeIgnored), nil
	}

	teamID := sub.TeamID()
	if teamID == "" {
		log.Warn().
			Str("event_id", meta.ID).
			Str("type", meta.Type).
			Str("subscription_id", sub.ID).
			Str("customer_id", sub.Customer).
			Msg("Subscription event has no teamId metadata, skipping")
		return s.record(OutcomeNoTeam), nil
	}

	outcome := OutcomeApplied
	_, _, err := s.store.Mutate(ctx, teamID, func(t *registry.Team) error {
		if isStale(t, meta) {
			outcome = OutcomeStale
			return registry.ErrNoChange
		}
		switch ev := event.(type) {
		case SubscriptionChanged:
			if ApplySubscriptionChanged(t, ev, s.prices) {
				log.Warn().
					Str("team_id", teamID).
					Str("event_id", meta.ID).
					Str("plan", string(t.Plan)).
					Int("extra_user_slots", t.ExtraUserSlots).
					Msg("Extra user slot quantity exceeds plan cap, clamped")
			}
		case SubscriptionDeleted:
			if t.StripeSubscriptionID != nil && *t.StripeSubscriptionID != ev.Subscription.ID {
				outcome = OutcomeSuperseded
				return registry.ErrNoChange
			}
			if alreadyCanceled(t, meta) {
				outcome = OutcomeSuperseded
				return registry.ErrNoChange
			}
			ApplySubscriptionDeleted(t, ev)
		}
		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		if errors.Is(err, berrors.ErrNotFound) {
			log.Warn().
				Str("team_id", teamID).
				Str("event_id", meta.ID).
				Msg("Subscription event references unknown team, skipping")
			return s.record(OutcomeUnknownTeam), nil
		}
		return "", fmt.Errorf("apply %s for team %s: %w", meta.Type, teamID, err)
	}

	ev := log.Info()
	if outcome != OutcomeApplied {
		ev = log.Debug()
	}
	ev.Str("team_id", teamID).
		Str("event_id", meta.ID).
		Str("type", meta.Type).
		Str("subscription_id", sub.ID).
		Str("status", sub.Status).
		Str("outcome", string(outcome)).
		Msg("Subscription event processed")
	return s.record(outcome), nil
}

func (s *Synchronizer) record(outcome Outcome) Outcome {
	bmetrics.SubscriptionEventsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome
}
