// Package billing implements the subscription providers behind the
// entitlement resolver and the Stripe webhook processor that keeps the
// local mirror and the resolver cache current.
package billing

import (
	"fmt"
	"time"

	"github.com/revai/concierge/models"
	stripe "github.com/stripe/stripe-go/v82"
)

// MetadataTenantID is the Stripe metadata key holding the tenant ID
const MetadataTenantID = "tenant_id"

// PriceTable maps Stripe price IDs to plans
type PriceTable map[string]models.Plan

// NewPriceTable converts the configured price -> plan name table
func NewPriceTable(prices map[string]string) PriceTable {
	t := make(PriceTable, len(prices))
	for price, plan := range prices {
		t[price] = models.Plan(plan)
	}
	return t
}

// planFor returns the plan of the first item whose price is known.
// Metadata "plan" is honored when no price matches.
func (t PriceTable) planFor(sub *stripe.Subscription) models.Plan {
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			if plan, ok := t[item.Price.ID]; ok && plan.Valid() {
				return plan
			}
		}
	}
	if plan := models.Plan(sub.Metadata["plan"]); plan.Valid() {
		return plan
	}
	return models.PlanFree
}

// StatusFromStripe maps a Stripe subscription status onto the snapshot states
func StatusFromStripe(status stripe.SubscriptionStatus) models.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive:
		return models.StatusActive
	case stripe.SubscriptionStatusTrialing:
		return models.StatusTrialing
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return models.StatusPastDue
	case stripe.SubscriptionStatusIncomplete:
		return models.StatusIncomplete
	default:
		// canceled, incomplete_expired, paused
		return models.StatusCanceled
	}
}

// SnapshotFromStripe builds a snapshot for tenantID from a Stripe subscription
func SnapshotFromStripe(tenantID string, sub *stripe.Subscription, prices PriceTable, fetchedAt time.Time) (*models.SubscriptionSnapshot, error) {
	if sub == nil {
		return nil, fmt.Errorf("stripe subscription is nil")
	}

	start, end := subscriptionPeriod(sub)
	if !start.Before(end) {
		return nil, fmt.Errorf("stripe subscription %s has no valid billing period", sub.ID)
	}

	return &models.SubscriptionSnapshot{
		TenantID:           tenantID,
		SubscriptionID:     sub.ID,
		Plan:               prices.planFor(sub),
		Status:             StatusFromStripe(sub.Status),
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		FetchedAt:          fetchedAt,
	}, nil
}

// subscriptionPeriod reads the billing period from the first subscription item
func subscriptionPeriod(sub *stripe.Subscription) (time.Time, time.Time) {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0] == nil {
		return time.Time{}, time.Time{}
	}
	item := sub.Items.Data[0]
	return time.Unix(item.CurrentPeriodStart, 0).UTC(), time.Unix(item.CurrentPeriodEnd, 0).UTC()
}

// latestSubscription returns the most recently created subscription
func latestSubscription(subs []*stripe.Subscription) *stripe.Subscription {
	var latest *stripe.Subscription
	for _, s := range subs {
		if s == nil {
			continue
		}
		if latest == nil || s.Created > latest.Created {
			latest = s
		}
	}
	return latest
}

// customerID returns the ID of an expandable customer reference
func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}
