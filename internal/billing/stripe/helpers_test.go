package stripe

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/stocktally/stocktally/internal/billing/registry"
	"github.com/stocktally/stocktally/pkg/plans"
)

const (
	testSecret       = "whsec_test_secret"
	testAddonPrice   = "price_extra_user"
	testStarterMonth = "price_starter_month"
	testProYear      = "price_pro_year"
)

var testPrices = Prices{
	StarterMonthly: testStarterMonth,
	StarterYearly:  "price_starter_year",
	ProMonthly:     "price_pro_month",
	ProYearly:      testProYear,
	ExtraUser:      testAddonPrice,
}

func newTestRegistry(t *testing.T) *registry.TeamRegistry {
	t.Helper()
	reg, err := registry.NewTeamRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewTeamRegistry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

// seedTeam creates a team after applying mutate to a fresh free team.
func seedTeam(t *testing.T, reg *registry.TeamRegistry, mutate func(*registry.Team)) *registry.Team {
	t.Helper()
	team := registry.NewTeam("Acme Stock")
	if mutate != nil {
		mutate(team)
	}
	if err := reg.Create(context.Background(), team); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return team
}

func subscribed(plan plans.Name, subID string, slots int) func(*registry.Team) {
	return func(t *registry.Team) {
		t.Plan = plan
		t.MaxWarehouses = plans.MaxWarehouses(plan)
		t.ExtraUserSlots = slots
		t.StripeCustomerID = registry.StringPtr("cus_1")
		t.StripeSubscriptionID = registry.StringPtr(subID)
		t.StripeSubscriptionStatus = registry.StringPtr("active")
	}
}

func onTrial(plan plans.Name, ends time.Time) func(*registry.Team) {
	return func(t *registry.Team) {
		t.IsOnTrial = true
		t.TrialPlan = &plan
		t.TrialEndsAt = &ends
		t.MaxWarehouses = plans.MaxWarehouses(plan)
	}
}

func mustGet(t *testing.T, reg *registry.TeamRegistry, id string) *registry.Team {
	t.Helper()
	team, err := reg.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if team == nil {
		t.Fatalf("team %s not found", id)
	}
	return team
}

type item struct {
	id       string
	price    string
	quantity int64
	interval string
}

func subscriptionObject(id, status string, metadata map[string]string, items ...item) map[string]any {
	data := make([]map[string]any, 0, len(items))
	for _, it := range items {
		price := map[string]any{"id": it.price}
		if it.interval != "" {
			price["recurring"] = map[string]any{"interval": it.interval}
		}
		data = append(data, map[string]any{"id": it.id, "quantity": it.quantity, "price": price})
	}
	return map[string]any{
		"id":       id,
		"object":   "subscription",
		"customer": "cus_1",
		"status":   status,
		"metadata": metadata,
		"items":    map[string]any{"object": "list", "data": data},
	}
}

func eventJSON(t *testing.T, id, eventType string, created time.Time, object map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":      id,
		"object":  "event",
		"type":    eventType,
		"created": created.Unix(),
		"data":    map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return string(raw)
}

func signedWebhookRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// fakeSubscriptionClient records provider calls.
type fakeSubscriptionClient struct {
	sub       *Subscription
	getErr    error
	updateErr error
	gets      int
	updates   [][]ItemUpdate
}

func (f *fakeSubscriptionClient) GetSubscription(_ context.Context, id string) (*Subscription, error) {
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.sub, nil
}

func (f *fakeSubscriptionClient) UpdateSubscriptionItems(_ context.Context, id string, items []ItemUpdate) error {
	f.updates = append(f.updates, items)
	return f.updateErr
}

func liveSubscription(id string, items ...item) *Subscription {
	sub := &Subscription{ID: id, Status: "active", Customer: "cus_1"}
	for _, it := range items {
		var si SubscriptionItem
		si.ID = it.id
		si.Quantity = it.quantity
		si.Price.ID = it.price
		sub.Items.Data = append(sub.Items.Data, si)
	}
	return sub
}
