package stripe

import (
	"context"
	"fmt"
	"strings"

	stripelib "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"
)

// ItemUpdate is one line item change sent to the provider.
type ItemUpdate struct {
	ID       string // existing item; empty to create
	PriceID  string // required when creating
	Quantity int64
	Deleted  bool
}

// SubscriptionClient is the provider surface the add-on reconciler needs.
type SubscriptionClient interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	UpdateSubscriptionItems(ctx context.Context, subscriptionID string, items []ItemUpdate) error
}

// StripeClient implements SubscriptionClient and session creation over the
// stripe-go resource packages.
type StripeClient struct {
	getSubscription       func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error)
	updateSubscription    func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error)
	createCheckoutSession func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
	createPortalSession   func(params *stripelib.BillingPortalSessionParams) (*stripelib.BillingPortalSession, error)
}

// NewStripeClient sets the global API key and returns a client.
func NewStripeClient(apiKey string) *StripeClient {
	stripelib.Key = strings.TrimSpace(apiKey)
	return &StripeClient{
		getSubscription:       subscription.Get,
		updateSubscription:    subscription.Update,
		createCheckoutSession: checkoutsession.New,
		createPortalSession:   portalsession.New,
	}
}

// GetSubscription fetches the live subscription and its line items.
func (c *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripelib.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.getSubscription(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", subscriptionID, err)
	}
	return fromStripeSubscription(sub), nil
}

// UpdateSubscriptionItems applies item changes with prorations.
func (c *StripeClient) UpdateSubscriptionItems(ctx context.Context, subscriptionID string, items []ItemUpdate) error {
	params := &stripelib.SubscriptionParams{
		ProrationBehavior: stripelib.String("create_prorations"),
	}
	params.Context = ctx
	for _, item := range items {
		p := &stripelib.SubscriptionItemsParams{}
		if item.ID != "" {
			p.ID = stripelib.String(item.ID)
		} else {
			p.Price = stripelib.String(item.PriceID)
		}
		if item.Deleted {
			p.Deleted = stripelib.Bool(true)
		} else if item.Quantity > 0 {
			p.Quantity = stripelib.Int64(item.Quantity)
		}
		params.Items = append(params.Items, p)
	}
	if _, err := c.updateSubscription(subscriptionID, params); err != nil {
		return fmt.Errorf("update subscription %s: %w", subscriptionID, err)
	}
	return nil
}

func fromStripeSubscription(sub *stripelib.Subscription) *Subscription {
	if sub == nil {
		return nil
	}
	out := &Subscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		Metadata: sub.Metadata,
	}
	if sub.Customer != nil {
		out.Customer = sub.Customer.ID
	}
	if sub.Items == nil {
		return out
	}
	for _, item := range sub.Items.Data {
		if item == nil {
			continue
		}
		var converted SubscriptionItem
		converted.ID = item.ID
		converted.Quantity = item.Quantity
		if item.Price != nil {
			converted.Price.ID = item.Price.ID
			if item.Price.Recurring != nil {
				converted.Price.Recurring = &struct {
					Interval string `json:"interval"`
				}{Interval: string(item.Price.Recurring.Interval)}
			}
		}
		out.Items.Data = append(out.Items.Data, converted)
	}
	return out
}
