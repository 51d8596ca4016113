package stripe

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/stocktally/stocktally/internal/billing/bmetrics"
	"github.com/stocktally/stocktally/internal/billing/registry"
	berrors "github.com/stocktally/stocktally/internal/errors"
)

const opSetExtraUserSlots = "set_extra_user_slots"

// Reconciler changes a team's paid extra user slots on the provider and then
// mirrors the result locally.
type Reconciler struct {
	store        TeamStore
	client       SubscriptionClient
	addonPriceID string
}

// NewReconciler creates a Reconciler.
func NewReconciler(store TeamStore, client SubscriptionClient, addonPriceID string) *Reconciler {
	return &Reconciler{store: store, client: client, addonPriceID: addonPriceID}
}

// SetExtraUserSlots sets the add-on quantity to desired. Callers validate
// desired against the plan's seat cap.
func (r *Reconciler) SetExtraUserSlots(ctx context.Context, teamID string, desired int) (int, error) {
	if desired < 0 {
		r.record("rejected")
		return 0, berrors.Validation(opSetExtraUserSlots, "extra user slots must be zero or more")
	}
	if r.client == nil || r.addonPriceID == "" {
		return 0, berrors.Configuration(opSetExtraUserSlots, "extra user billing is not configured")
	}

	team, err := r.store.Get(ctx, teamID)
	if err != nil {
		return 0, err
	}
	if team == nil {
		return 0, berrors.NotFound(opSetExtraUserSlots, teamID)
	}
	if err := requireSubscription(team); err != nil {
		r.record("rejected")
		return 0, err
	}
	subscriptionID := *team.StripeSubscriptionID

	sub, err := r.client.GetSubscription(ctx, subscriptionID)
	if err != nil {
		r.record("provider_error")
		return 0, berrors.Provider(opSetExtraUserSlots, teamID, err)
	}

	addon, base := sub.SplitItems(r.addonPriceID)
	if desired == 0 && addon == nil {
		r.record("noop")
		return team.ExtraUserSlots, nil
	}

	updates := make([]ItemUpdate, 0, len(base)+1)
	for _, item := range base {
		updates = append(updates, ItemUpdate{ID: item.ID})
	}
	switch {
	case desired > 0 && addon != nil:
		updates = append(updates, ItemUpdate{ID: addon.ID, Quantity: int64(desired)})
	case desired > 0:
		updates = append(updates, ItemUpdate{PriceID: r.addonPriceID, Quantity: int64(desired)})
	default:
		updates = append(updates, ItemUpdate{ID: addon.ID, Deleted: true})
	}

	if err := r.client.UpdateSubscriptionItems(ctx, subscriptionID, updates); err != nil {
		r.record("provider_error")
		log.Error().Err(err).
			Str("team_id", teamID).
			Str("subscription_id", subscriptionID).
			Int("desired", desired).
			Msg("Extra user slot update rejected by Stripe")
		return 0, berrors.Provider(opSetExtraUserSlots, teamID, err)
	}

	_, _, err = r.store.Mutate(ctx, teamID, func(t *registry.Team) error {
		if err := requireSubscription(t); err != nil {
			return err
		}
		t.ExtraUserSlots = desired
		return nil
	})
	if err != nil {
		// The next subscription.updated webhook re-mirrors the provider quantity.
		log.Error().Err(err).
			Str("team_id", teamID).
			Int("desired", desired).
			Msg("Stripe updated but local extra user slot mirror failed")
		return 0, err
	}

	r.record("updated")
	log.Info().
		Str("team_id", teamID).
		Str("subscription_id", subscriptionID).
		Int("extra_user_slots", desired).
		Msg("Extra user slots updated")
	return desired, nil
}

func requireSubscription(t *registry.Team) error {
	if t.HasActiveSubscription() {
		return nil
	}
	if t.IsOnTrial {
		return berrors.OnTrialWithoutSubscription(opSetExtraUserSlots, t.ID)
	}
	return berrors.NotSubscribed(opSetExtraUserSlots, t.ID)
}

func (r *Reconciler) record(outcome string) {
	bmetrics.AddonUpdatesTotal.WithLabelValues(outcome).Inc()
}

