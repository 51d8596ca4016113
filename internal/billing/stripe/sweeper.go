package stripe

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stocktally/stocktally/internal/billing/bmetrics"
	"github.com/stocktally/stocktally/internal/billing/registry"
	"github.com/stocktally/stocktally/pkg/entitlements"
	"github.com/stocktally/stocktally/pkg/plans"
)

const defaultSweepInterval = 1 * time.Hour

// Sweeper periodically downgrades teams whose trial has lapsed.
type Sweeper struct {
	store    TeamStore
	interval time.Duration
	now      func() time.Time
}

// NewSweeper creates a Sweeper. A zero interval uses the hourly default.
func NewSweeper(store TeamStore, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("Trial expiry sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Trial expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, s.now()); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Trial expiry sweep failed")
			}
		}
	}
}

// Sweep downgrades every team still flagged on trial whose window ended
// before now, and returns how many it downgraded. Re-running is a no-op.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	teams, err := s.store.ListExpiredTrials(ctx, now)
	if err != nil {
		return 0, err
	}

	count := 0
	var errs []error
	for _, team := range teams {
		if ctx.Err() != nil {
			return count, ctx.Err()
		}
		if team == nil {
			continue
		}

		var trialPlan plans.Name
		_, changed, err := s.store.Mutate(ctx, team.ID, func(t *registry.Team) error {
			if !t.IsOnTrial || !entitlements.IsExpired(t.TrialState(), now) {
				return registry.ErrNoChange
			}
			if t.TrialPlan != nil {
				trialPlan = *t.TrialPlan
			}
			t.Plan = plans.Free
			t.MaxWarehouses = plans.FreeWarehouseFloor
			t.ClearTrial()
			return nil
		})
		if err != nil {
			log.Error().Err(err).Str("team_id", team.ID).Msg("Trial expiry sweeper: failed to downgrade team")
			errs = append(errs, err)
			continue
		}
		if !changed {
			continue
		}

		count++
		bmetrics.TrialDowngradesTotal.Inc()
		log.Info().
			Str("team_id", team.ID).
			Str("trial_plan", string(trialPlan)).
			Msg("Trial expired, team downgraded to free")
	}
	return count, errors.Join(errs...)
}
