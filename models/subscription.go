package models

import (
	"fmt"
	"time"
)

// SubscriptionStatus is the billing-provider state of a tenant's subscription
type SubscriptionStatus string

const (
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusActive     SubscriptionStatus = "active"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusCanceled   SubscriptionStatus = "canceled"
	StatusIncomplete SubscriptionStatus = "incomplete"
)

// Valid reports whether the status is one of the known states
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue, StatusCanceled, StatusIncomplete:
		return true
	}
	return false
}

// Entitled reports whether the status grants paid capabilities
func (s SubscriptionStatus) Entitled() bool {
	return s == StatusActive || s == StatusTrialing
}

// SubscriptionSnapshot is the billing provider's view of a tenant's
// subscription at FetchedAt. The provider is the source of truth; status is
// never derived locally.
type SubscriptionSnapshot struct {
	TenantID           string             `json:"tenant_id"`
	SubscriptionID     string             `json:"subscription_id,omitempty"`
	Plan               Plan               `json:"plan"`
	Status             SubscriptionStatus `json:"status"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	FetchedAt          time.Time          `json:"fetched_at"`
	Stale              bool               `json:"stale"`
}

// Validate checks the snapshot invariants
func (s *SubscriptionSnapshot) Validate() error {
	if s.TenantID == "" {
		return fmt.Errorf("snapshot: tenant id is required")
	}
	if !s.Status.Valid() {
		return fmt.Errorf("snapshot: unknown status %q", s.Status)
	}
	if !s.CurrentPeriodStart.Before(s.CurrentPeriodEnd) {
		return fmt.Errorf("snapshot: period start %s is not before end %s",
			s.CurrentPeriodStart.Format(time.RFC3339), s.CurrentPeriodEnd.Format(time.RFC3339))
	}
	return nil
}

// Entitled reports whether the subscription currently grants paid capabilities
func (s *SubscriptionSnapshot) Entitled() bool {
	return s.Status.Entitled()
}

// Clone returns a copy safe to hand to callers
func (s *SubscriptionSnapshot) Clone() *SubscriptionSnapshot {
	c := *s
	return &c
}

// NoSubscription is the snapshot for a tenant the provider has no
// subscription for: canceled, on the free plan, for the current calendar month.
func NoSubscription(tenantID string, now time.Time) *SubscriptionSnapshot {
	u := now.UTC()
	start := time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
	return &SubscriptionSnapshot{
		TenantID:           tenantID,
		Plan:               PlanFree,
		Status:             StatusCanceled,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   start.AddDate(0, 1, 0),
		FetchedAt:          now,
	}
}
