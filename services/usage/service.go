// Package usage meters plan-limited actions against each tenant's monthly
// quota. Counters live in the usage_metrics table and reset at the start of
// every UTC calendar month.
package usage

import (
	"context"
	"time"

	"github.com/revai/concierge/internal/observability"
	"github.com/revai/concierge/models"
	"github.com/revai/concierge/repositories"
	"github.com/revai/concierge/services"
	"go.uber.org/zap"
)

// WarningThreshold is the share of a quota after which responses carry a usage warning
const WarningThreshold = 0.8

// Allowance is a tenant's position against one quota in the current period
type Allowance struct {
	Type        models.UsageType `json:"type"`
	Used        int              `json:"used"`
	Limit       int              `json:"limit"`
	Remaining   int              `json:"remaining"`
	PeriodStart time.Time        `json:"period_start"`
	PeriodEnd   time.Time        `json:"period_end"`
}

// NearLimit reports whether the allowance is at or past WarningThreshold
func (a Allowance) NearLimit() bool {
	if a.Limit <= 0 {
		return true
	}
	return float64(a.Used) >= float64(a.Limit)*WarningThreshold
}

func newAllowance(t models.UsageType, used, limit int, start, end time.Time) Allowance {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Allowance{
		Type:        t,
		Used:        used,
		Limit:       limit,
		Remaining:   remaining,
		PeriodStart: start,
		PeriodEnd:   end,
	}
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the service's time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithMetrics counts consumed and rejected usage
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// Service checks and records usage against plan quotas
type Service struct {
	repo    repositories.UsageRepository
	now     func() time.Time
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewService creates a usage service over the repository
func NewService(repo repositories.UsageRepository, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Consume counts one unit of usage for the tenant if the plan's quota for
// the current period allows it.
//
// Errors: services.ErrInvalidInput for an unknown usage type or empty tenant,
// services.ErrUsageLimitExceeded when the quota is exhausted, or an internal
// error when the counter cannot be updated.
func (s *Service) Consume(ctx context.Context, tenantID string, plan models.Plan, usageType models.UsageType) (*Allowance, error) {
	if tenantID == "" {
		return nil, services.ErrInvalidInput.WithDetail("field", "tenant_id")
	}
	if !usageType.Valid() {
		return nil, services.ErrInvalidInput.WithDetail("usage_type", string(usageType))
	}

	limit := plan.Limits().Quota(usageType)
	start, end := models.UsagePeriod(s.now())

	used, ok, err := s.repo.Increment(ctx, tenantID, usageType, start, end, limit)
	if err != nil {
		return nil, services.WrapInternal("failed to record usage", err)
	}

	allowance := newAllowance(usageType, used, limit, start, end)
	if !ok {
		s.metrics.RecordUsage(string(usageType), observability.UsageExceeded)
		s.logger.Info("usage limit exceeded",
			zap.String("tenant_id", tenantID),
			zap.String("plan", string(plan)),
			zap.String("type", string(usageType)),
			zap.Int("used", used),
			zap.Int("limit", limit))
		return &allowance, services.ErrUsageLimitExceeded.
			WithDetail("type", string(usageType)).
			WithDetail("used", used).
			WithDetail("limit", limit).
			WithDetail("resets_at", end.Format(time.RFC3339))
	}

	s.metrics.RecordUsage(string(usageType), observability.UsageConsumed)
	return &allowance, nil
}

// Report returns the tenant's allowance for every metered type in the current period
func (s *Service) Report(ctx context.Context, tenantID string, plan models.Plan) ([]Allowance, error) {
	if tenantID == "" {
		return nil, services.ErrInvalidInput.WithDetail("field", "tenant_id")
	}

	start, end := models.UsagePeriod(s.now())
	metrics, err := s.repo.ListByPeriod(ctx, tenantID, start)
	if err != nil {
		return nil, services.WrapInternal("failed to load usage", err)
	}

	used := make(map[models.UsageType]int, len(metrics))
	for _, m := range metrics {
		used[m.Type] = m.Count
	}

	limits := plan.Limits()
	report := make([]Allowance, 0, len(models.UsageTypes))
	for _, t := range models.UsageTypes {
		report = append(report, newAllowance(t, used[t], limits.Quota(t), start, end))
	}
	return report, nil
}
