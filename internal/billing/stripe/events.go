package stripe

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
)

// Subscription event types the synchronizer acts on.
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// Metadata keys stamped onto subscriptions at checkout.
const (
	MetadataTeamID = "teamId"
	MetadataPlan   = "plan"
)

// Subscription is a minimal representation of a Stripe subscription object.
type Subscription struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
	Items    struct {
		Data []SubscriptionItem `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

// SubscriptionItem is one line item of a subscription.
type SubscriptionItem struct {
	ID       string `json:"id"`
	Quantity int64  `json:"quantity"`
	Price    struct {
		ID        string `json:"id"`
		Recurring *struct {
			Interval string `json:"interval"`
		} `json:"recurring"`
	} `json:"price"`
}

// Interval returns the item's recurring interval, or "".
func (i SubscriptionItem) Interval() string {
	if i.Price.Recurring == nil {
		return ""
	}
	return i.Price.Recurring.Interval
}

// TeamID returns the teamId metadata value.
func (s *Subscription) TeamID() string {
	return strings.TrimSpace(s.Metadata[MetadataTeamID])
}

// SplitItems separates the add-on line item from the base plan items.
func (s *Subscription) SplitItems(addonPriceID string) (addon *SubscriptionItem, base []SubscriptionItem) {
	for i := range s.Items.Data {
		item := s.Items.Data[i]
		if addonPriceID != "" && item.Price.ID == addonPriceID && addon == nil {
			addon = &item
			continue
		}
		base = append(base, item)
	}
	return addon, base
}

// EventMeta carries the envelope fields shared by every decoded event.
type EventMeta struct {
	ID      string
	Type    string
	Created time.Time
}

// Event is one of SubscriptionChanged, SubscriptionDeleted or IgnoredEvent.
type Event interface {
	Meta() EventMeta
}

// SubscriptionChanged is a created or updated subscription event.
type SubscriptionChanged struct {
	EventMeta
	Subscription Subscription
}

// SubscriptionDeleted is a deleted subscription event.
type SubscriptionDeleted struct {
	EventMeta
	Subscription Subscription
}

// IgnoredEvent is any event type the synchronizer does not act on.
type IgnoredEvent struct {
	EventMeta
}

func (m EventMeta) Meta() EventMeta { return m }

// DecodeEvent maps a verified Stripe event onto the closed set of variants.
// Unknown types decode to IgnoredEvent and never fail.
func DecodeEvent(event *stripelib.Event) (Event, error) {
	if event == nil {
		return nil, fmt.Errorf("event is nil")
	}
	meta := EventMeta{
		ID:   event.ID,
		Type: string(event.Type),
	}
	if event.Created > 0 {
		meta.Created = time.Unix(event.Created, 0).UTC()
	}

	switch meta.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		sub, err := decodeSubscription(event)
		if err != nil {
			return nil, err
		}
		return SubscriptionChanged{EventMeta: meta, Subscription: sub}, nil
	case EventSubscriptionDeleted:
		sub, err := decodeSubscription(event)
		if err != nil {
			return nil, err
		}
		return SubscriptionDeleted{EventMeta: meta, Subscription: sub}, nil
	default:
		return IgnoredEvent{EventMeta: meta}, nil
	}
}

func decodeSubscription(event *stripelib.Event) (Subscription, error) {
	var sub Subscription
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return sub, fmt.Errorf("decode subscription: event %s has no data", event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return sub, fmt.Errorf("decode subscription: %w", err)
	}
	return sub, nil
}
