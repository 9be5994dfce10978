package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/revai/concierge/config"
	"github.com/revai/concierge/internal/observability"
	"github.com/revai/concierge/middleware"
	"github.com/revai/concierge/repositories"
	"github.com/revai/concierge/repositories/postgres"
	"github.com/revai/concierge/services/access"
	"github.com/revai/concierge/services/audit"
	"github.com/revai/concierge/services/billing"
	"github.com/revai/concierge/services/credentials"
	"github.com/revai/concierge/services/entitlement"
	"github.com/revai/concierge/services/session"
	"github.com/revai/concierge/services/usage"
	"go.uber.org/zap"
)

// Background maintenance intervals
const (
	revocationCleanupInterval = time.Minute
	snapshotCleanupInterval   = 10 * time.Minute
	rateLimitSweepInterval    = 5 * time.Minute
	auditStopTimeout          = 5 * time.Second
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB
	Redis   *redis.Client
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Tenants       repositories.TenantRepository
	Users         repositories.UserRepository
	Subscriptions repositories.SubscriptionRepository
	UsageCounters repositories.UsageRepository
	AuditLogs     repositories.AuditRepository
	TxManager     repositories.TransactionManager

	// Sessions
	Issuer      *session.Issuer
	Verifier    *session.Verifier
	Revocations session.RevocationStore
	Credentials *credentials.Store

	// Entitlements and access
	Resolver *entitlement.Resolver
	Guard    middleware.Authorizer

	// Billing webhooks; nil when no webhook secret is configured
	Webhooks *billing.WebhookProcessor

	// Monthly plan quotas
	Usage *usage.Service

	Audit       *audit.Service
	RateLimiter *middleware.RateLimiter

	stopCh    chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps, err := NewDependenciesFromDB(ctx, cfg, factory.GetDB(), logger)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return deps, nil
}

// NewDependenciesFromDB wires every component over an already open pool.
// Close closes the pool; on error the pool is left open for the caller.
func NewDependenciesFromDB(ctx context.Context, cfg *config.Config, db *postgres.DB, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		DB:     db,
		Logger: logger,
		stopCh: make(chan struct{}),
	}
	if cfg.Observability.MetricsEnabled {
		deps.Metrics = observability.NewMetrics()
	}

	deps.RepoFactory = postgres.NewRepositoryFactoryFromDB(db, logger)
	deps.initRepositories()

	if err := deps.initSessions(ctx, cfg); err != nil {
		deps.abort()
		return nil, fmt.Errorf("failed to initialize sessions: %w", err)
	}

	if err := deps.initAudit(); err != nil {
		deps.abort()
		return nil, fmt.Errorf("failed to initialize audit: %w", err)
	}

	if err := deps.initEntitlements(cfg); err != nil {
		deps.abort()
		return nil, fmt.Errorf("failed to initialize entitlements: %w", err)
	}

	deps.initAccess()
	deps.initUsage()
	deps.initRateLimiting(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens the PostgreSQL pool and applies the schema
func initDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*postgres.RepositoryFactory, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository factory: %w", err)
	}

	db := factory.GetDB()
	if err := db.PingContext(ctx); err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if err := db.InitSchema(ctx); err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))
	return factory, nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Tenants = repos.Tenants
	d.Users = repos.Users
	d.Subscriptions = repos.Subscriptions
	d.UsageCounters = repos.Usage
	d.AuditLogs = repos.AuditLogs
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initSessions sets up token signing and the revocation store
func (d *Dependencies) initSessions(ctx context.Context, cfg *config.Config) error {
	sessionCfg := session.Config{
		SigningSecret: cfg.Session.SigningSecret,
		TTL:           cfg.Session.TTL,
		Issuer:        cfg.Session.Issuer,
	}
	if sessionCfg.SigningSecret == "" {
		d.Logger.Warn("session signing secret not set, logins will fail")
	}
	d.Issuer = session.NewIssuer(sessionCfg, nil)
	d.Verifier = session.NewVerifier(sessionCfg, nil)
	d.Credentials = credentials.NewStore(d.Users, d.Logger)

	if cfg.Redis.Enabled() {
		client, err := session.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		d.Redis = client
		d.Revocations = session.NewRedisRevocationStore(client, nil)
		d.Logger.Info("session revocation backed by redis")
		return nil
	}

	store := session.NewMemoryRevocationStore(nil)
	go store.StartCleanupWorker(revocationCleanupInterval, d.stopCh)
	d.Revocations = store
	d.Logger.Info("session revocation kept in memory")
	return nil
}

// initAudit starts the asynchronous audit writer
func (d *Dependencies) initAudit() error {
	svc := audit.NewService(d.AuditLogs, d.Logger, audit.DefaultConfig())
	if err := svc.Start(); err != nil {
		return err
	}
	d.Audit = svc
	return nil
}

// initEntitlements selects the billing provider and builds the resolver and webhook processor
func (d *Dependencies) initEntitlements(cfg *config.Config) error {
	prices := billing.NewPriceTable(cfg.Stripe.PriceIDs)

	var provider entitlement.Provider
	switch cfg.Entitlement.Provider {
	case config.BillingProviderStripe:
		provider = billing.NewStripeProvider(cfg.Stripe.APIKey, prices, d.Tenants, d.Logger)
	case config.BillingProviderDatabase:
		provider = billing.NewDatabaseProvider(d.Subscriptions)
	default:
		return fmt.Errorf("unknown billing provider %q", cfg.Entitlement.Provider)
	}

	d.Resolver = entitlement.NewResolver(provider, entitlement.Config{
		FreshnessWindow: cfg.Entitlement.FreshnessWindow,
		CacheSize:       cfg.Entitlement.CacheSize,
		ProviderTimeout: cfg.Entitlement.ProviderTimeout,
		MaxAttempts:     cfg.Entitlement.RetryMaxAttempts,
		InitialBackoff:  cfg.Entitlement.RetryInitialDelay,
		MaxBackoff:      cfg.Entitlement.RetryMaxDelay,
	}, d.Logger, entitlement.WithMetrics(d.Metrics))
	go d.Resolver.StartCleanupWorker(snapshotCleanupInterval, d.stopCh)

	d.Logger.Info("entitlement resolver initialized",
		zap.String("provider", provider.Name()),
		zap.Duration("freshness_window", cfg.Entitlement.FreshnessWindow))

	if cfg.Stripe.WebhookSecret == "" {
		d.Logger.Warn("stripe webhook secret not set, webhook endpoint disabled")
		return nil
	}
	d.Webhooks = billing.NewWebhookProcessor(billing.WebhookConfig{
		Secret:        cfg.Stripe.WebhookSecret,
		Prices:        prices,
		TxManager:     d.TxManager,
		Tenants:       d.Tenants,
		Subscriptions: d.Subscriptions,
		Sink:          d.Resolver,
		Audit:         d.Audit,
	}, d.Logger)
	return nil
}

// initAccess builds the access guard
func (d *Dependencies) initAccess() {
	d.Guard = access.NewGuard(d.Verifier, d.Resolver, d.Logger,
		access.WithRevocationStore(d.Revocations),
		access.WithMetrics(d.Metrics))
}

// initUsage builds the plan quota meter
func (d *Dependencies) initUsage() {
	d.Usage = usage.NewService(d.UsageCounters, d.Logger, usage.WithMetrics(d.Metrics))
}

// initRateLimiting sets up per-client limits for the API
func (d *Dependencies) initRateLimiting(cfg *config.Config) {
	if !cfg.RateLimit.Enabled {
		d.Logger.Info("rate limiting disabled")
		return
	}
	d.RateLimiter = middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, d.Logger)
	d.RateLimiter.StartCleanupWorker(rateLimitSweepInterval, cfg.RateLimit.Window, d.stopCh)
}

// AuditRecorder returns the audit writer, or a no-op recorder when none is configured
func (d *Dependencies) AuditRecorder() audit.Recorder {
	if d.Audit == nil {
		return audit.NopRecorder{}
	}
	return d.Audit
}

func (d *Dependencies) stop() {
	d.stopOnce.Do(func() {
		if d.stopCh != nil {
			close(d.stopCh)
		}
	})
}

// abort releases what a failed wiring started, leaving the pool alone
func (d *Dependencies) abort() {
	d.stop()
	if d.Audit != nil {
		_ = d.Audit.Stop(auditStopTimeout)
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
}

// Close gracefully shuts down all dependencies. It is safe to call more than once.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error

	d.closeOnce.Do(func() {
		d.Logger.Info("shutting down dependencies")
		d.stop()

		// Drain queued audit entries before the pool goes away
		if d.Audit != nil {
			timeout := auditStopTimeout
			if deadline, ok := ctx.Deadline(); ok {
				if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
					timeout = remaining
				}
			}
			if err := d.Audit.Stop(timeout); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
			}
		}

		if d.Redis != nil {
			if err := d.Redis.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
			}
		}

		if d.RepoFactory != nil {
			if err := d.RepoFactory.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close database: %w", err))
			} else {
				d.Logger.Info("database connection closed")
			}
		}

		_ = d.Logger.Sync()
	})

	return errors.Join(errs...)
}
