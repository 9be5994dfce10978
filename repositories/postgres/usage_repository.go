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

// UsageRepository implements the repositories.UsageRepository interface.
// One row per tenant, usage type and period start.
type UsageRepository struct {
	db     *DB
	tx     *Transaction
	logger *zap.Logger
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB, logger *zap.Logger) repositories.UsageRepository {
	return &UsageRepository{
		db:     db,
		logger: logger,
	}
}

// Increment adds one to the counter in a single statement. The conflict
// update only fires while the counter is under limit, so concurrent callers
// can never push it past the quota.
func (r *UsageRepository) Increment(ctx context.Context, tenantID string, usageType models.UsageType, periodStart, periodEnd time.Time, limit int) (int, bool, error) {
	if limit <= 0 {
		count, err := r.current(ctx, tenantID, usageType, periodStart)
		return count, false, err
	}

	query := `
		INSERT INTO usage_metrics (tenant_id, type, count, period_start, period_end, updated_at)
		VALUES ($1, $2, 1, $3, $4, $6)
		ON CONFLICT (tenant_id, type, period_start) DO UPDATE SET
			count = usage_metrics.count + 1,
			updated_at = EXCLUDED.updated_at
		WHERE usage_metrics.count < $5
		RETURNING count
	`

	var count int
	err := executor(ctx, r.db, r.tx).QueryRowContext(ctx, query,
		tenantID,
		usageType,
		periodStart,
		periodEnd,
		limit,
		time.Now().UTC(),
	).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			count, err := r.current(ctx, tenantID, usageType, periodStart)
			if err != nil {
				return 0, false, err
			}
			r.logger.Debug("usage limit reached",
				zap.String("tenant_id", tenantID),
				zap.String("type", string(usageType)),
				zap.Int("count", count))
			return count, false, nil
		}
		return 0, false, fmt.Errorf("failed to increment usage: %w", err)
	}

	return count, true, nil
}

func (r *UsageRepository) current(ctx context.Context, tenantID string, usageType models.UsageType, periodStart time.Time) (int, error) {
	query := `SELECT count FROM usage_metrics WHERE tenant_id = $1 AND type = $2 AND period_start = $3`

	var count int
	err := executor(ctx, r.db, r.tx).QueryRowContext(ctx, query, tenantID, usageType, periodStart).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	return count, nil
}

// ListByPeriod retrieves the tenant's counters for the period
func (r *UsageRepository) ListByPeriod(ctx context.Context, tenantID string, periodStart time.Time) ([]*models.UsageMetric, error) {
	query := `
		SELECT tenant_id, type, count, period_start, period_end
		FROM usage_metrics
		WHERE tenant_id = $1 AND period_start = $2
		ORDER BY type
	`

	rows, err := executor(ctx, r.db, r.tx).QueryContext(ctx, query, tenantID, periodStart)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	var metrics []*models.UsageMetric
	for rows.Next() {
		m := &models.UsageMetric{}
		if err := rows.Scan(&m.TenantID, &m.Type, &m.Count, &m.PeriodStart, &m.PeriodEnd); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage: %w", err)
	}

	return metrics, nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *UsageRepository) WithTx(tx repositories.Transaction) repositories.UsageRepository {
	return &UsageRepository{
		db:     r.db,
		tx:     boundTx(tx),
		logger: r.logger,
	}
}
