package billing

import (
	"context"
	"errors"
	"time"

	"github.com/revai/concierge/models"
	"github.com/revai/concierge/repositories"
	"github.com/revai/concierge/services"
)

// DatabaseProvider serves the webhook-maintained subscriptions mirror
type DatabaseProvider struct {
	subscriptions repositories.SubscriptionRepository
	now           func() time.Time
}

// NewDatabaseProvider creates a DatabaseProvider
func NewDatabaseProvider(subscriptions repositories.SubscriptionRepository) *DatabaseProvider {
	return &DatabaseProvider{
		subscriptions: subscriptions,
		now:           time.Now,
	}
}

// Name implements entitlement.Provider
func (p *DatabaseProvider) Name() string {
	return "database"
}

// FetchSubscription implements entitlement.Provider
func (p *DatabaseProvider) FetchSubscription(ctx context.Context, tenantID string) (*models.SubscriptionSnapshot, error) {
	snap, err := p.subscriptions.GetByTenantID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.NoSubscription(tenantID, p.now()), nil
		}
		return nil, services.WrapInternal("failed to load subscription", err)
	}
	return snap, nil
}
