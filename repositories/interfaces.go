package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/revai/concierge/models"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// TenantRepository handles tenant data operations
type TenantRepository interface {
	// Create creates a new tenant
	Create(ctx context.Context, tenant *models.Tenant) error

	// GetByID retrieves a tenant by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)

	// GetByStripeCustomerID retrieves the tenant linked to a Stripe customer
	GetByStripeCustomerID(ctx context.Context, customerID string) (*models.Tenant, error)

	// UpdatePlan sets the tenant's current plan
	UpdatePlan(ctx context.Context, id uuid.UUID, plan models.Plan) error

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) TenantRepository
}

// UserRepository handles user data operations
type UserRepository interface {
	// Create creates a new user
	Create(ctx context.Context, user *models.User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// GetByEmail retrieves a user by email, case-insensitively
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// ListByTenant retrieves all users of a tenant
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.User, error)

	// TouchLastLogin records a successful login
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) UserRepository
}

// SubscriptionRepository keeps the local mirror of each tenant's billing subscription
type SubscriptionRepository interface {
	// Upsert stores the snapshot as the tenant's current subscription unless
	// the stored row is newer by FetchedAt. It reports whether the row was written.
	Upsert(ctx context.Context, snapshot *models.SubscriptionSnapshot) (bool, error)

	// GetByTenantID retrieves the tenant's current subscription
	GetByTenantID(ctx context.Context, tenantID string) (*models.SubscriptionSnapshot, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) SubscriptionRepository
}

// UsageRepository keeps per-tenant monthly usage counters
type UsageRepository interface {
	// Increment adds one to the tenant's counter for the period unless it
	// already reached limit. It returns the counter value and whether the
	// increment was applied.
	Increment(ctx context.Context, tenantID string, usageType models.UsageType, periodStart, periodEnd time.Time, limit int) (int, bool, error)

	// ListByPeriod retrieves the tenant's counters for the period starting at periodStart
	ListByPeriod(ctx context.Context, tenantID string, periodStart time.Time) ([]*models.UsageMetric, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) UsageRepository
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// ListByTenant retrieves audit logs for a tenant, newest first
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.AuditLog, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) AuditRepository
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Tenants       TenantRepository
	Users         UserRepository
	Subscriptions SubscriptionRepository
	Usage         UsageRepository
	AuditLogs     AuditRepository
}
