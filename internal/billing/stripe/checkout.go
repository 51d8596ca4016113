package stripe

import (
	"context"
	"net/url"
	"strings"

	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/stocktally/stocktally/internal/billing/registry"
	berrors "github.com/stocktally/stocktally/internal/errors"
	"github.com/stocktally/stocktally/pkg/plans"
)

// CheckoutSession is the caller-facing result of starting checkout.
type CheckoutSession struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

// PortalSession is the caller-facing result of opening the billing portal.
type PortalSession struct {
	URL string `json:"url"`
}

// CheckoutService creates Stripe Checkout and Billing Portal sessions for teams.
type CheckoutService struct {
	client  *StripeClient
	prices  Prices
	baseURL string
}

// NewCheckoutService creates a CheckoutService. Return URLs are built from baseURL.
func NewCheckoutService(client *StripeClient, prices Prices, baseURL string) *CheckoutService {
	return &CheckoutService{
		client:  client,
		prices:  prices,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}
}

// CreateCheckoutSession starts a subscription checkout for plan at interval.
// The team ID and plan are stamped into subscription metadata so webhooks
// can route back to the team.
func (s *CheckoutService) CreateCheckoutSession(ctx context.Context, team *registry.Team, plan plans.Name, interval registry.BillingInterval) (*CheckoutSession, error) {
	const op = "create_checkout_session"
	if s == nil || s.client == nil {
		return nil, berrors.Configuration(op, "Stripe is not configured")
	}
	if !plans.IsPaid(plan) {
		return nil, berrors.Validation(op, "plan must be starter or pro")
	}
	priceID, ok := s.prices.PriceFor(plan, interval)
	if !ok {
		return nil, berrors.Configuration(op, "no price configured for "+string(plan)+"/"+string(interval))
	}

	params := &stripelib.CheckoutSessionParams{
		Mode:              stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		SuccessURL:        stripelib.String(s.returnURL("/settings/billing", url.Values{"checkout": {"success"}})),
		CancelURL:         stripelib.String(s.returnURL("/settings/billing", url.Values{"checkout": {"cancelled"}})),
		ClientReferenceID: stripelib.String(team.ID),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(priceID),
				Quantity: stripelib.Int64(1),
			},
		},
		SubscriptionData: &stripelib.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				MetadataTeamID: team.ID,
				MetadataPlan:   string(plan),
			},
		},
	}
	if team.StripeCustomerID != nil && *team.StripeCustomerID != "" {
		params.Customer = stripelib.String(*team.StripeCustomerID)
	}
	params.Context = ctx

	session, err := s.client.createCheckoutSession(params)
	if err != nil {
		return nil, berrors.Provider(op, team.ID, err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return nil, berrors.New(berrors.ErrorTypeProvider, op, team.ID, "checkout session has no URL", nil)
	}
	return &CheckoutSession{URL: session.URL, SessionID: session.ID}, nil
}

// CreatePortalSession opens the Stripe Billing Portal for the team's customer.
func (s *CheckoutService) CreatePortalSession(ctx context.Context, team *registry.Team) (*PortalSession, error) {
	const op = "create_portal_session"
	if s == nil || s.client == nil {
		return nil, berrors.Configuration(op, "Stripe is not configured")
	}
	if team.StripeCustomerID == nil || *team.StripeCustomerID == "" {
		return nil, berrors.New(berrors.ErrorTypeNotSubscribed, op, team.ID,
			"This team has no billing account yet. Start a subscription first.", nil)
	}

	params := &stripelib.BillingPortalSessionParams{
		Customer:  stripelib.String(*team.StripeCustomerID),
		ReturnURL: stripelib.String(s.returnURL("/settings/billing", nil)),
	}
	params.Context = ctx

	session, err := s.client.createPortalSession(params)
	if err != nil {
		return nil, berrors.Provider(op, team.ID, err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return nil, berrors.New(berrors.ErrorTypeProvider, op, team.ID, "portal session has no URL", nil)
	}
	return &PortalSession{URL: session.URL}, nil
}

func (s *CheckoutService) returnURL(path string, query url.Values) string {
	u := s.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}
