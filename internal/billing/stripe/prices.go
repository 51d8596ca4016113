package stripe

import (
	"strings"

	"github.com/stocktally/stocktally/internal/billing/registry"
	"github.com/stocktally/stocktally/pkg/plans"
)

// Prices maps configured Stripe price IDs to plans and intervals.
type Prices struct {
	StarterMonthly string
	StarterYearly  string
	ProMonthly     string
	ProYearly      string
	ExtraUser      string
}

// PlanForPrice returns the plan a base price ID bills for.
func (p Prices) PlanForPrice(priceID string) (plans.Name, bool) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return "", false
	}
	switch priceID {
	case p.StarterMonthly, p.StarterYearly:
		return plans.Starter, true
	case p.ProMonthly, p.ProYearly:
		return plans.Pro, true
	}
	return "", false
}

// PriceFor returns the configured price ID for a paid plan and interval.
func (p Prices) PriceFor(plan plans.Name, interval registry.BillingInterval) (string, bool) {
	var id string
	switch {
	case plan == plans.Starter && interval == registry.BillingIntervalMonth:
		id = p.StarterMonthly
	case plan == plans.Starter && interval == registry.BillingIntervalYear:
		id = p.StarterYearly
	case plan == plans.Pro && interval == registry.BillingIntervalMonth:
		id = p.ProMonthly
	case plan == plans.Pro && interval == registry.BillingIntervalYear:
		id = p.ProYearly
	}
	id = strings.TrimSpace(id)
	return id, id != ""
}

// resolvePlan picks the plan for an active subscription: the plan metadata
// when valid, then the base item's price, then free.
func (p Prices) resolvePlan(sub *Subscription, base []SubscriptionItem) plans.Name {
	if plan, ok := plans.Parse(sub.Metadata[MetadataPlan]); ok {
		return plan
	}
	for _, item := range base {
		if plan, ok := p.PlanForPrice(item.Price.ID); ok {
			return plan
		}
	}
	return plans.Free
}
