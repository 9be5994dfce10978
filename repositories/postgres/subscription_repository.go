package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/revai/concierge/models"
	"github.com/revai/concierge/repositories"
	"go.uber.org/zap"
)

// SubscriptionRepository implements the repositories.SubscriptionRepository interface.
// One row per tenant holds the latest state pushed by billing webhooks.
type SubscriptionRepository struct {
	db     *DB
	tx     *Transaction
	logger *zap.Logger
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *DB, logger *zap.Logger) repositories.SubscriptionRepository {
	return &SubscriptionRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert stores the snapshot as the tenant's current subscription.
// Rows are versioned by fetched_at; an older snapshot leaves the row untouched.
func (r *SubscriptionRepository) Upsert(ctx context.Context, snapshot *models.SubscriptionSnapshot) (bool, error) {
	query := `
		INSERT INTO subscriptions (
			tenant_id, subscription_id, plan, status,
			current_period_start, current_period_end, cancel_at_period_end, fetched_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id) DO UPDATE SET
			subscription_id = EXCLUDED.subscription_id,
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			fetched_at = EXCLUDED.fetched_at,
			updated_at = EXCLUDED.updated_at
		WHERE subscriptions.fetched_at <= EXCLUDED.fetched_at
	`

	now := time.Now().UTC()
	fetchedAt := snapshot.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = now
	}

	result, err := executor(ctx, r.db, r.tx).ExecContext(ctx, query,
		snapshot.TenantID,
		snapshot.SubscriptionID,
		snapshot.Plan,
		snapshot.Status,
		snapshot.CurrentPeriodStart,
		snapshot.CurrentPeriodEnd,
		snapshot.CancelAtPeriodEnd,
		fetchedAt,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		r.logger.Debug("subscription upsert superseded",
			zap.String("tenant_id", snapshot.TenantID),
			zap.Time("fetched_at", fetchedAt))
		return false, nil
	}

	r.logger.Debug("subscription upserted",
		zap.String("tenant_id", snapshot.TenantID),
		zap.String("status", string(snapshot.Status)))
	return true, nil
}

// GetByTenantID retrieves the tenant's current subscription.
// FetchedAt is the time of the billing event the row reflects.
func (r *SubscriptionRepository) GetByTenantID(ctx context.Context, tenantID string) (*models.SubscriptionSnapshot, error) {
	query := `
		SELECT tenant_id, subscription_id, plan, status,
		       current_period_start, current_period_end, cancel_at_period_end, fetched_at
		FROM subscriptions
		WHERE tenant_id = $1
	`

	s := &models.SubscriptionSnapshot{}
	err := executor(ctx, r.db, r.tx).QueryRowContext(ctx, query, tenantID).Scan(
		&s.TenantID,
		&s.SubscriptionID,
		&s.Plan,
		&s.Status,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.CancelAtPeriodEnd,
		&s.FetchedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("subscription for tenant %s: %w", tenantID, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return s, nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *SubscriptionRepository) WithTx(tx repositories.Transaction) repositories.SubscriptionRepository {
	return &SubscriptionRepository{
		db:     r.db,
		tx:     boundTx(tx),
		logger: r.logger,
	}
}
