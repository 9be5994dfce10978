package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents an isolated customer account. Every user, subscription
// and audit entry is scoped to exactly one tenant.
type Tenant struct {
	ID               uuid.UUID `json:"id" db:"id"`
	Name             string    `json:"name" db:"name"`
	Description      string    `json:"description" db:"description"`
	Plan             Plan      `json:"plan" db:"plan"`
	StripeCustomerID *string   `json:"stripe_customer_id,omitempty" db:"stripe_customer_id"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Tenant model
func (Tenant) TableName() string {
	return "tenants"
}

// NewTenant creates a new Tenant on the free plan
func NewTenant(name, description string) *Tenant {
	now := time.Now()
	return &Tenant{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		Plan:        PlanFree,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// HasBillingAccount returns true if the tenant is linked to a Stripe customer
func (t *Tenant) HasBillingAccount() bool {
	return t.StripeCustomerID != nil && *t.StripeCustomerID != ""
}
