package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/revai/concierge/internal/observability"
	"github.com/revai/concierge/models"
	"github.com/revai/concierge/repositories"
	"github.com/revai/concierge/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

var testNow = time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)

type counterKey struct {
	tenantID string
	t        models.UsageType
	start    time.Time
}

// memoryRepository keeps counters in a map with the same limit guard as the SQL upsert
type memoryRepository struct {
	mu     sync.Mutex
	counts map[counterKey]int
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{counts: make(map[counterKey]int)}
}

func (r *memoryRepository) Increment(_ context.Context, tenantID string, t models.UsageType, start, _ time.Time, limit int) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := counterKey{tenantID, t, start}
	if r.counts[k] >= limit {
		return r.counts[k], false, nil
	}
	r.counts[k]++
	return r.counts[k], true, nil
}

func (r *memoryRepository) ListByPeriod(_ context.Context, tenantID string, start time.Time) ([]*models.UsageMetric, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.UsageMetric
	for k, v := range r.counts {
		if k.tenantID == tenantID && k.start.Equal(start) {
			out = append(out, &models.UsageMetric{TenantID: tenantID, Type: k.t, Count: v, PeriodStart: start})
		}
	}
	return out, nil
}

func (r *memoryRepository) WithTx(repositories.Transaction) repositories.UsageRepository { return r }

type MockUsageRepository struct {
	mock.Mock
}

func (m *MockUsageRepository) Increment(ctx context.Context, tenantID string, t models.UsageType, start, end time.Time, limit int) (int, bool, error) {
	args := m.Called(ctx, tenantID, t, start, end, limit)
	return args.Int(0), args.Bool(1), args.Error(2)
}

func (m *MockUsageRepository) ListByPeriod(ctx context.Context, tenantID string, start time.Time) ([]*models.UsageMetric, error) {
	args := m.Called(ctx, tenantID, start)
	if metrics := args.Get(0); metrics != nil {
		return metrics.([]*models.UsageMetric), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUsageRepository) WithTx(repositories.Transaction) repositories.UsageRepository { return m }

func clockAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestConsume_QuotaBoundary(t *testing.T) {
	metrics := observability.NewMetrics()
	svc := NewService(newMemoryRepository(), zaptest.NewLogger(t), WithClock(clockAt(testNow)), WithMetrics(metrics))
	ctx := context.Background()
	limit := models.PlanFree.Limits().MaxAIRepliesPerMonth

	for i := 1; i < limit; i++ {
		_, err := svc.Consume(ctx, "tenant-a", models.PlanFree, models.UsageAIReply)
		require.NoError(t, err)
	}

	// The last unit of the quota is still granted
	last, err := svc.Consume(ctx, "tenant-a", models.PlanFree, models.UsageAIReply)
	require.NoError(t, err)
	assert.Equal(t, limit, last.Used)
	assert.Zero(t, last.Remaining)
	assert.True(t, last.NearLimit())

	over, err := svc.Consume(ctx, "tenant-a", models.PlanFree, models.UsageAIReply)
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrUsageLimitExceeded)
	assert.Equal(t, services.ReasonUsageLimitExceeded, services.GetReasonCode(err))
	require.NotNil(t, over)
	assert.Equal(t, limit, over.Used)

	details := services.GetErrorDetails(err)
	assert.Equal(t, "ai_reply", details["type"])
	assert.Equal(t, limit, details["limit"])
	assert.Equal(t, "2026-04-01T00:00:00Z", details["resets_at"])

	assert.Equal(t, float64(limit), testutil.ToFloat64(metrics.UsageTotal.WithLabelValues("ai_reply", observability.UsageConsumed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.UsageTotal.WithLabelValues("ai_reply", observability.UsageExceeded)))
}

func TestConsume_QuotaIsPerTenantTypeAndPeriod(t *testing.T) {
	repo := newMemoryRepository()
	ctx := context.Background()
	march := NewService(repo, zap.NewNop(), WithClock(clockAt(testNow)))
	limit := models.PlanFree.Limits().MaxAIRepliesPerMonth

	for i := 0; i < limit; i++ {
		_, err := march.Consume(ctx, "tenant-a", models.PlanFree, models.UsageAIReply)
		require.NoError(t, err)
	}
	_, err := march.Consume(ctx, "tenant-a", models.PlanFree, models.UsageAIReply)
	require.ErrorIs(t, err, services.ErrUsageLimitExceeded)

	_, err = march.Consume(ctx, "tenant-b", models.PlanFree, models.UsageAIReply)
	assert.NoError(t, err, "other tenants keep their own quota")

	_, err = march.Consume(ctx, "tenant-a", models.PlanFree, models.UsageReview)
	assert.NoError(t, err, "review quota is separate")

	april := NewService(repo, zap.NewNop(), WithClock(clockAt(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))))
	allowance, err := april.Consume(ctx, "tenant-a", models.PlanFree, models.UsageAIReply)
	require.NoError(t, err, "quota resets with the month")
	assert.Equal(t, 1, allowance.Used)
}

func TestConsume_UpgradeRaisesQuota(t *testing.T) {
	svc := NewService(newMemoryRepository(), zap.NewNop(), WithClock(clockAt(testNow)))
	ctx := context.Background()

	for i := 0; i < models.PlanFree.Limits().MaxAIRepliesPerMonth; i++ {
		_, err := svc.Consume(ctx, "tenant-a", models.PlanFree, models.UsageAIReply)
		require.NoError(t, err)
	}
	_, err := svc.Consume(ctx, "tenant-a", models.PlanFree, models.UsageAIReply)
	require.ErrorIs(t, err, services.ErrUsageLimitExceeded)

	allowance, err := svc.Consume(ctx, "tenant-a", models.PlanBasic, models.UsageAIReply)
	require.NoError(t, err)
	assert.Equal(t, 21, allowance.Used)
	assert.Equal(t, 79, allowance.Remaining)
	assert.False(t, allowance.NearLimit())
}

func TestConsume_Validation(t *testing.T) {
	svc := NewService(newMemoryRepository(), zap.NewNop())

	_, err := svc.Consume(context.Background(), "", models.PlanPro, models.UsageAIReply)
	assert.True(t, services.IsValidationError(err))

	_, err = svc.Consume(context.Background(), "tenant-a", models.PlanPro, models.UsageType("translation"))
	assert.True(t, services.IsValidationError(err))
}

func TestConsume_RepositoryFailureIsInternal(t *testing.T) {
	repo := new(MockUsageRepository)
	start, end := models.UsagePeriod(testNow)
	repo.On("Increment", mock.Anything, "tenant-a", models.UsageAIReply, start, end, 500).
		Return(0, false, errors.New("connection reset"))

	svc := NewService(repo, zap.NewNop(), WithClock(clockAt(testNow)))
	allowance, err := svc.Consume(context.Background(), "tenant-a", models.PlanPro, models.UsageAIReply)

	assert.Nil(t, allowance)
	assert.True(t, services.IsInternalError(err))
	assert.False(t, services.IsQuotaError(err))
	repo.AssertExpectations(t)
}

func TestReport(t *testing.T) {
	repo := new(MockUsageRepository)
	start, end := models.UsagePeriod(testNow)
	repo.On("ListByPeriod", mock.Anything, "tenant-a", start).Return([]*models.UsageMetric{
		{TenantID: "tenant-a", Type: models.UsageAIReply, Count: 450, PeriodStart: start, PeriodEnd: end},
	}, nil)

	svc := NewService(repo, zap.NewNop(), WithClock(clockAt(testNow)))
	report, err := svc.Report(context.Background(), "tenant-a", models.PlanPro)
	require.NoError(t, err)
	require.Len(t, report, 2)

	assert.Equal(t, models.UsageReview, report[0].Type)
	assert.Zero(t, report[0].Used)
	assert.Equal(t, 1000, report[0].Limit)
	assert.False(t, report[0].NearLimit())

	assert.Equal(t, models.UsageAIReply, report[1].Type)
	assert.Equal(t, 450, report[1].Used)
	assert.Equal(t, 50, report[1].Remaining)
	assert.True(t, report[1].NearLimit())
	assert.Equal(t, end, report[1].PeriodEnd)
}

func TestReport_RepositoryFailure(t *testing.T) {
	repo := new(MockUsageRepository)
	repo.On("ListByPeriod", mock.Anything, "tenant-a", mock.Anything).Return(nil, errors.New("timeout"))

	svc := NewService(repo, zap.NewNop(), WithClock(clockAt(testNow)))
	_, err := svc.Report(context.Background(), "tenant-a", models.PlanPro)
	assert.True(t, services.IsInternalError(err))
}

func TestAllowance_NearLimit(t *testing.T) {
	assert.False(t, Allowance{Used: 15, Limit: 20}.NearLimit())
	assert.True(t, Allowance{Used: 16, Limit: 20}.NearLimit())
	assert.True(t, Allowance{Used: 0, Limit: 0}.NearLimit())
}
