package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/revai/concierge/models"
	"github.com/revai/concierge/repositories"
	"github.com/revai/concierge/services"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"
	"go.uber.org/zap"
)

// SubscriptionLister lists every subscription of a Stripe customer
type SubscriptionLister func(ctx context.Context, customerID string) ([]*stripe.Subscription, error)

// StripeProvider reads subscription state from the Stripe API
type StripeProvider struct {
	tenants repositories.TenantRepository
	prices  PriceTable
	list    SubscriptionLister
	now     func() time.Time
	logger  *zap.Logger
}

// StripeOption configures a StripeProvider
type StripeOption func(*StripeProvider)

// WithSubscriptionLister replaces the Stripe API call
func WithSubscriptionLister(l SubscriptionLister) StripeOption {
	return func(p *StripeProvider) {
		p.list = l
	}
}

// WithStripeClock overrides the provider's time source
func WithStripeClock(now func() time.Time) StripeOption {
	return func(p *StripeProvider) {
		p.now = now
	}
}

// NewStripeProvider creates a StripeProvider. The API key is installed
// process-wide for the stripe-go client.
func NewStripeProvider(apiKey string, prices PriceTable, tenants repositories.TenantRepository, logger *zap.Logger, opts ...StripeOption) *StripeProvider {
	stripe.Key = apiKey
	p := &StripeProvider{
		tenants: tenants,
		prices:  prices,
		list:    listStripeSubscriptions,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements entitlement.Provider
func (p *StripeProvider) Name() string {
	return "stripe"
}

// FetchSubscription implements entitlement.Provider. Tenants without a Stripe
// customer or without any subscription get the canceled free-plan snapshot.
func (p *StripeProvider) FetchSubscription(ctx context.Context, tenantID string) (*models.SubscriptionSnapshot, error) {
	id, err := uuid.Parse(tenantID)
	if err != nil {
		return nil, services.ErrInvalidInput.WithDetail("tenant_id", tenantID)
	}

	tenant, err := p.tenants.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrTenantNotFound
		}
		return nil, services.WrapInternal("failed to load tenant", err)
	}

	now := p.now()
	if !tenant.HasBillingAccount() {
		return models.NoSubscription(tenantID, now), nil
	}

	subs, err := p.list(ctx, *tenant.StripeCustomerID)
	if err != nil {
		return nil, services.WrapExternal("stripe subscription list failed", err)
	}

	latest := latestSubscription(subs)
	if latest == nil {
		p.logger.Debug("stripe customer has no subscriptions",
			zap.String("tenant_id", tenantID),
			zap.String("customer_id", *tenant.StripeCustomerID))
		return models.NoSubscription(tenantID, now), nil
	}

	snap, err := SnapshotFromStripe(tenantID, latest, p.prices, now)
	if err != nil {
		return nil, services.ErrInvalidSnapshot.Wrap(err)
	}
	return snap, nil
}

func listStripeSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx

	var subs []*stripe.Subscription
	iter := subscription.List(params)
	for iter.Next() {
		subs = append(subs, iter.Subscription())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions for %s: %w", customerID, err)
	}
	return subs, nil
}
