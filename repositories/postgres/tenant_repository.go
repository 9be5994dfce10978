package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/revai/concierge/models"
	"github.com/revai/concierge/repositories"
	"go.uber.org/zap"
)

const tenantColumns = `id, name, description, plan, stripe_customer_id, created_at, updated_at`

// TenantRepository implements the repositories.TenantRepository interface
type TenantRepository struct {
	db     *DB
	tx     *Transaction
	logger *zap.Logger
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB, logger *zap.Logger) repositories.TenantRepository {
	return &TenantRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new tenant
func (r *TenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	query := `
		INSERT INTO tenants (` + tenantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := executor(ctx, r.db, r.tx).ExecContext(ctx, query,
		tenant.ID,
		tenant.Name,
		tenant.Description,
		tenant.Plan,
		tenant.StripeCustomerID,
		tenant.CreatedAt,
		tenant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	r.logger.Debug("tenant created", zap.String("id", tenant.ID.String()))
	return nil
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`

	tenant, err := scanTenant(executor(ctx, r.db, r.tx).QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", id, err)
	}
	return tenant, nil
}

// GetByStripeCustomerID retrieves the tenant linked to a Stripe customer
func (r *TenantRepository) GetByStripeCustomerID(ctx context.Context, customerID string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE stripe_customer_id = $1`

	tenant, err := scanTenant(executor(ctx, r.db, r.tx).QueryRowContext(ctx, query, customerID))
	if err != nil {
		return nil, fmt.Errorf("tenant for customer %s: %w", customerID, err)
	}
	return tenant, nil
}

// UpdatePlan sets the tenant's current plan
func (r *TenantRepository) UpdatePlan(ctx context.Context, id uuid.UUID, plan models.Plan) error {
	query := `UPDATE tenants SET plan = $2, updated_at = $3 WHERE id = $1`

	result, err := executor(ctx, r.db, r.tx).ExecContext(ctx, query, id, plan, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update tenant plan: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("tenant %s: %w", id, repositories.ErrNotFound)
	}

	r.logger.Debug("tenant plan updated", zap.String("id", id.String()), zap.String("plan", string(plan)))
	return nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *TenantRepository) WithTx(tx repositories.Transaction) repositories.TenantRepository {
	return &TenantRepository{
		db:     r.db,
		tx:     boundTx(tx),
		logger: r.logger,
	}
}

func scanTenant(row *sql.Row) (*models.Tenant, error) {
	tenant := &models.Tenant{}
	err := row.Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.Description,
		&tenant.Plan,
		&tenant.StripeCustomerID,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return tenant, nil
}
