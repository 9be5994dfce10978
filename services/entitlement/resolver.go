// Package entitlement resolves a tenant's subscription snapshot from a
// per-tenant cache backed by the billing provider.
//
// Concurrent misses for the same tenant share one provider fetch. The fetch
// is retried with exponential backoff inside a provider timeout and is not
// canceled when the callers that started it go away. When the provider
// fails, a cached snapshot is served marked stale; with nothing cached the
// resolver reports the provider as unavailable.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/revai/concierge/internal/observability"
	"github.com/revai/concierge/models"
	"github.com/revai/concierge/services"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Provider fetches the authoritative subscription state for a tenant
type Provider interface {
	Name() string
	FetchSubscription(ctx context.Context, tenantID string) (*models.SubscriptionSnapshot, error)
}

// Config controls caching and the provider retry policy
type Config struct {
	FreshnessWindow time.Duration
	CacheSize       int
	ProviderTimeout time.Duration
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	// MaxStaleAge bounds how old a snapshot served on provider failure may be
	MaxStaleAge time.Duration
}

// Defaults
const (
	DefaultFreshnessWindow = 5 * time.Minute
	DefaultCacheSize       = 10000
	DefaultProviderTimeout = 5 * time.Second
	DefaultMaxAttempts     = 3
	DefaultInitialBackoff  = 100 * time.Millisecond
	DefaultMaxBackoff      = 2 * time.Second
	DefaultMaxStaleAge     = 24 * time.Hour
)

func (c Config) withDefaults() Config {
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = DefaultFreshnessWindow
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = DefaultProviderTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.MaxStaleAge <= 0 {
		c.MaxStaleAge = DefaultMaxStaleAge
	}
	return c
}

// Option configures a Resolver
type Option func(*Resolver)

// WithClock overrides the resolver's time source
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithMetrics records cache and fetch outcomes
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// Resolver maps a tenant ID to its current subscription snapshot
type Resolver struct {
	provider Provider
	cfg      Config
	cache    *SnapshotCache
	group    singleflight.Group
	now      func() time.Time
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewResolver creates a resolver over the given provider
func NewResolver(provider Provider, cfg Config, logger *zap.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		provider: provider,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cache = NewSnapshotCache(r.cfg.CacheSize, r.cfg.FreshnessWindow, r.now)
	return r
}

// Resolve returns the tenant's snapshot. A fresh cache entry is returned
// directly; otherwise the provider is consulted. The returned snapshot is
// the caller's own copy.
//
// Errors: services.ErrInvalidInput for an empty tenant ID,
// services.ErrBillingProviderUnavailable when the provider failed and
// nothing is cached, or the context's error when ctx ends first.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (*models.SubscriptionSnapshot, error) {
	if tenantID == "" {
		return nil, services.ErrInvalidInput.WithDetail("field", "tenant_id")
	}

	snap, fresh, ok := r.cache.Get(tenantID)
	switch {
	case ok && fresh:
		r.metrics.RecordCache(observability.CacheHit)
		return snap, nil
	case ok:
		r.metrics.RecordCache(observability.CacheStale)
	default:
		r.metrics.RecordCache(observability.CacheMiss)
	}

	ch := r.group.DoChan(tenantID, func() (interface{}, error) {
		return r.fetch(ctx, tenantID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return r.fallback(tenantID, res.Err)
		}
		return res.Val.(*models.SubscriptionSnapshot).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fetch runs once per tenant for all coalesced callers. It is detached from
// the caller's cancellation and bounded by the provider timeout instead.
func (r *Resolver) fetch(ctx context.Context, tenantID string) (*models.SubscriptionSnapshot, error) {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ProviderTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff
	b.MaxInterval = r.cfg.MaxBackoff

	startedAt := r.now()
	start := time.Now()
	attempts := 0

	snap, err := backoff.Retry(fetchCtx, func() (*models.SubscriptionSnapshot, error) {
		attempts++
		s, err := r.provider.FetchSubscription(fetchCtx, tenantID)
		if err != nil {
			if services.IsValidationError(err) || services.IsNotFoundError(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if s == nil || s.TenantID != tenantID {
			return nil, backoff.Permanent(services.ErrInvalidSnapshot.WithDetail("tenant_id", tenantID))
		}
		if err := s.Validate(); err != nil {
			return nil, backoff.Permanent(services.ErrInvalidSnapshot.Wrap(err))
		}
		return s, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(r.cfg.ProviderTimeout),
	)
	elapsed := time.Since(start)

	if err != nil {
		result := observability.FetchError
		if errors.Is(err, context.DeadlineExceeded) || fetchCtx.Err() != nil {
			result = observability.FetchTimeout
		}
		r.metrics.RecordFetch(result, elapsed)
		r.logger.Warn("billing provider fetch failed",
			zap.String("provider", r.provider.Name()),
			zap.String("tenant_id", tenantID),
			zap.Int("attempts", attempts),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, fmt.Errorf("fetch subscription from %s: %w", r.provider.Name(), err)
	}
	r.metrics.RecordFetch(observability.FetchSuccess, elapsed)

	snap = snap.Clone()
	snap.FetchedAt = startedAt
	snap.Stale = false
	if !r.cache.SetIfNewer(snap) {
		// A webhook delivered newer state while we were fetching
		if newer, ok := r.cache.Peek(tenantID); ok {
			return newer, nil
		}
	}

	r.logger.Debug("subscription snapshot refreshed",
		zap.String("tenant_id", tenantID),
		zap.String("status", string(snap.Status)),
		zap.Int("attempts", attempts),
	)
	return snap, nil
}

// fallback serves the last known snapshot marked stale, or fails closed
func (r *Resolver) fallback(tenantID string, cause error) (*models.SubscriptionSnapshot, error) {
	if cached, ok := r.cache.Peek(tenantID); ok {
		cached.Stale = true
		r.logger.Warn("serving stale subscription snapshot",
			zap.String("tenant_id", tenantID),
			zap.Time("fetched_at", cached.FetchedAt),
		)
		return cached, nil
	}
	return nil, services.ErrBillingProviderUnavailable.Wrap(cause).WithDetail("tenant_id", tenantID)
}

// Apply pushes a snapshot received out of band (webhooks) into the cache.
// Snapshots older than the cached one are ignored; the return value reports
// whether it was stored.
func (r *Resolver) Apply(snap *models.SubscriptionSnapshot) (bool, error) {
	if snap == nil {
		return false, services.ErrInvalidSnapshot
	}
	if err := snap.Validate(); err != nil {
		return false, services.ErrInvalidSnapshot.Wrap(err)
	}
	s := snap.Clone()
	if s.FetchedAt.IsZero() {
		s.FetchedAt = r.now()
	}
	stored := r.cache.SetIfNewer(s)
	r.logger.Info("subscription snapshot applied",
		zap.String("tenant_id", s.TenantID),
		zap.String("status", string(s.Status)),
		zap.Bool("stored", stored),
	)
	return stored, nil
}

// Invalidate marks the tenant's snapshot stale so the next Resolve refetches.
// A fetch already in flight is not joined by later callers.
func (r *Resolver) Invalidate(tenantID string) bool {
	r.group.Forget(tenantID)
	existed := r.cache.Invalidate(tenantID)
	r.logger.Info("subscription snapshot invalidated",
		zap.String("tenant_id", tenantID),
		zap.Bool("cached", existed),
	)
	return existed
}

// Stats describes the resolver for operators
type Stats struct {
	Provider        string     `json:"provider"`
	FreshnessWindow string     `json:"freshness_window"`
	ProviderTimeout string     `json:"provider_timeout"`
	MaxAttempts     int        `json:"max_attempts"`
	Cache           CacheStats `json:"cache"`
}

// Stats returns cache statistics and the effective configuration
func (r *Resolver) Stats() Stats {
	return Stats{
		Provider:        r.provider.Name(),
		FreshnessWindow: r.cfg.FreshnessWindow.String(),
		ProviderTimeout: r.cfg.ProviderTimeout.String(),
		MaxAttempts:     r.cfg.MaxAttempts,
		Cache:           r.cache.Stats(),
	}
}

// StartCleanupWorker drops snapshots too old to serve on provider failure until stopCh closes
func (r *Resolver) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	r.cache.StartCleanupWorker(interval, r.cfg.MaxStaleAge, stopCh)
}
