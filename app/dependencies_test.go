package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/revai/concierge/config"
	"github.com/revai/concierge/repositories/postgres"
	"github.com/revai/concierge/services/audit"
	"github.com/revai/concierge/services/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewDependenciesFromDB(t *testing.T) {
	t.Run("database provider with in-memory revocation", func(t *testing.T) {
		ctx := context.Background()
		db, mock := newMockDB(t)
		mock.ExpectClose()

		deps, err := NewDependenciesFromDB(ctx, testConfig(t), db, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NotNil(t, deps)

		// Verify infrastructure
		assert.NotNil(t, deps.Config)
		assert.NotNil(t, deps.DB)
		assert.Nil(t, deps.Redis)
		assert.Nil(t, deps.Metrics)

		// Verify repositories
		assert.NotNil(t, deps.Tenants)
		assert.NotNil(t, deps.Users)
		assert.NotNil(t, deps.Subscriptions)
		assert.NotNil(t, deps.UsageCounters)
		assert.NotNil(t, deps.AuditLogs)
		assert.NotNil(t, deps.TxManager)

		// Verify services
		assert.NotNil(t, deps.Issuer)
		assert.NotNil(t, deps.Verifier)
		assert.NotNil(t, deps.Credentials)
		assert.IsType(t, &session.MemoryRevocationStore{}, deps.Revocations)
		assert.NotNil(t, deps.Guard)
		assert.NotNil(t, deps.Usage)
		assert.NotNil(t, deps.RateLimiter)
		assert.Nil(t, deps.Webhooks, "webhooks stay disabled without a secret")
		assert.Equal(t, "database", deps.Resolver.Stats().Provider)
		assert.True(t, deps.Audit.Stats().Started)

		require.NoError(t, deps.Close(ctx))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stripe provider with webhooks and metrics", func(t *testing.T) {
		ctx := context.Background()
		db, mock := newMockDB(t)
		mock.ExpectClose()

		cfg := testConfig(t)
		cfg.Entitlement.Provider = config.BillingProviderStripe
		cfg.Stripe = config.StripeConfig{
			APIKey:        "sk_test_123",
			WebhookSecret: "whsec_test",
			PriceIDs:      map[string]string{"price_pro": "pro"},
		}
		cfg.Observability.MetricsEnabled = true
		cfg.RateLimit.Enabled = false

		deps, err := NewDependenciesFromDB(ctx, cfg, db, zaptest.NewLogger(t))
		require.NoError(t, err)

		assert.NotNil(t, deps.Webhooks)
		assert.NotNil(t, deps.Metrics)
		assert.Nil(t, deps.RateLimiter)
		assert.Equal(t, "stripe", deps.Resolver.Stats().Provider)

		require.NoError(t, deps.Close(ctx))
	})

	t.Run("redis revocation store", func(t *testing.T) {
		ctx := context.Background()
		mr := miniredis.RunT(t)
		db, mock := newMockDB(t)
		mock.ExpectClose()

		cfg := testConfig(t)
		cfg.Redis.URL = "redis://" + mr.Addr()

		deps, err := NewDependenciesFromDB(ctx, cfg, db, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NotNil(t, deps.Redis)
		assert.IsType(t, &session.RedisRevocationStore{}, deps.Revocations)

		require.NoError(t, deps.Revocations.Revoke(ctx, "sess-1", time.Now().Add(time.Hour)))
		revoked, err := deps.Revocations.IsRevoked(ctx, "sess-1")
		require.NoError(t, err)
		assert.True(t, revoked)

		require.NoError(t, deps.Close(ctx))
	})

	t.Run("unreachable redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		db, _ := newMockDB(t)
		cfg := testConfig(t)
		cfg.Redis.URL = "redis://" + addr

		deps, err := NewDependenciesFromDB(context.Background(), cfg, db, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize sessions")
	})

	t.Run("unknown billing provider", func(t *testing.T) {
		db, _ := newMockDB(t)
		cfg := testConfig(t)
		cfg.Entitlement.Provider = "paypal"

		deps, err := NewDependenciesFromDB(context.Background(), cfg, db, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize entitlements")
	})
}

func TestNewDependencies(t *testing.T) {
	t.Run("database connection failure", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cfg := testConfig(t)
		cfg.Database.Host = "invalid-host-that-does-not-exist"

		deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize database")
	})
}

func TestDependenciesClose(t *testing.T) {
	t.Run("second close is a no-op", func(t *testing.T) {
		ctx := context.Background()
		db, mock := newMockDB(t)
		mock.ExpectClose()

		deps, err := NewDependenciesFromDB(ctx, testConfig(t), db, zaptest.NewLogger(t))
		require.NoError(t, err)

		require.NoError(t, deps.Close(ctx))
		assert.NotPanics(t, func() {
			assert.NoError(t, deps.Close(ctx))
		})
	})

	t.Run("reports close failures", func(t *testing.T) {
		ctx := context.Background()
		db, mock := newMockDB(t)
		mock.ExpectClose().WillReturnError(assert.AnError)

		deps, err := NewDependenciesFromDB(ctx, testConfig(t), db, zaptest.NewLogger(t))
		require.NoError(t, err)

		err = deps.Close(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to close database")

		// Each failure stays inspectable
		var joined interface{ Unwrap() []error }
		require.True(t, errors.As(err, &joined))
		assert.Len(t, joined.Unwrap(), 1)
	})
}

func TestAuditRecorder(t *testing.T) {
	deps := &Dependencies{}
	assert.IsType(t, audit.NopRecorder{}, deps.AuditRecorder())
}

// Test helpers

func newMockDB(t *testing.T) (*postgres.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	return postgres.Wrap(sqlDB, zaptest.NewLogger(t)), mock
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: config.DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "concierge",
			Password:        "concierge",
			Database:        "concierge_test",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Session: config.SessionConfig{
			TTL:           time.Hour,
			SigningSecret: "0123456789abcdef0123456789abcdef",
			Issuer:        "revai-concierge",
			CookieName:    "session",
		},
		Entitlement: config.EntitlementConfig{
			Provider:          config.BillingProviderDatabase,
			FreshnessWindow:   5 * time.Minute,
			CacheSize:         100,
			ProviderTimeout:   time.Second,
			RetryMaxAttempts:  3,
			RetryInitialDelay: 10 * time.Millisecond,
			RetryMaxDelay:     100 * time.Millisecond,
		},
		RateLimit: config.RateLimitConfig{
			Enabled:  true,
			Requests: 100,
			Window:   15 * time.Minute,
		},
		Observability: config.ObservabilityConfig{
			LogLevel:       "debug",
			LogFormat:      "json",
			MetricsEnabled: false,
		},
	}
}
