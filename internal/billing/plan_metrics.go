package billing

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stocktally/stocktally/internal/billing/bmetrics"
	"github.com/stocktally/stocktally/internal/billing/registry"
)

const planMetricsInterval = 30 * time.Second

func runPlanMetrics(ctx context.Context, reg *registry.TeamRegistry, now func() time.Time) {
	ticker := time.NewTicker(planMetricsInterval)
	defer ticker.Stop()

	// Prime once so the gauge is populated before the first tick.
	updatePlanGauges(ctx, reg, now())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updatePlanGauges(ctx, reg, now())
		}
	}
}

// updatePlanGauges counts teams by the plan they resolve to at now, so an
// expired-but-unswept trial already counts as free.
func updatePlanGauges(ctx context.Context, reg *registry.TeamRegistry, now time.Time) {
	counts, err := reg.CountByEffectivePlan(ctx, now)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("Failed to update plan metrics")
		}
		return
	}
	for plan, n := range counts {
		bmetrics.TeamsByEffectivePlan.WithLabelValues(string(plan)).Set(float64(n))
	}
}
