package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/revai/concierge/app"
	"github.com/revai/concierge/config"
	"github.com/revai/concierge/handlers"
	"github.com/revai/concierge/internal/observability"
	"github.com/revai/concierge/middleware"
	"github.com/revai/concierge/models"
	"github.com/revai/concierge/repositories"
	"github.com/revai/concierge/services/access"
	"github.com/revai/concierge/services/billing"
	"github.com/revai/concierge/services/entitlement"
	"github.com/revai/concierge/services/session"
	"github.com/revai/concierge/services/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	basicTenant = "9a1b2c3d-4e5f-4a6b-8c7d-0e1f2a3b4c5d"
	proTenant   = "1f2e3d4c-5b6a-4978-8695-a4b3c2d1e0f9"
)

type planProvider struct {
	plans map[string]models.Plan
}

func (p *planProvider) Name() string { return "fixed" }

func (p *planProvider) FetchSubscription(_ context.Context, tenantID string) (*models.SubscriptionSnapshot, error) {
	now := time.Now().UTC()
	plan, ok := p.plans[tenantID]
	if !ok {
		return models.NoSubscription(tenantID, now), nil
	}
	return &models.SubscriptionSnapshot{
		TenantID:           tenantID,
		SubscriptionID:     "sub_" + string(plan),
		Plan:               plan,
		Status:             models.StatusActive,
		CurrentPeriodStart: now.AddDate(0, 0, -1),
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		FetchedAt:          now,
	}, nil
}

// memoryUsage counts usage in a map with the same limit guard as the SQL upsert
type memoryUsage struct {
	mu     sync.Mutex
	counts map[string]int
}

func usageKey(tenantID string, t models.UsageType, start time.Time) string {
	return tenantID + "|" + string(t) + "|" + start.Format(time.RFC3339)
}

func (m *memoryUsage) Increment(_ context.Context, tenantID string, t models.UsageType, start, _ time.Time, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := usageKey(tenantID, t, start)
	if m.counts[k] >= limit {
		return m.counts[k], false, nil
	}
	m.counts[k]++
	return m.counts[k], true, nil
}

func (m *memoryUsage) ListByPeriod(_ context.Context, tenantID string, start time.Time) ([]*models.UsageMetric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.UsageMetric
	for _, t := range models.UsageTypes {
		if n, ok := m.counts[usageKey(tenantID, t, start)]; ok {
			out = append(out, &models.UsageMetric{TenantID: tenantID, Type: t, Count: n, PeriodStart: start})
		}
	}
	return out, nil
}

func (m *memoryUsage) WithTx(repositories.Transaction) repositories.UsageRepository { return m }

func (m *memoryUsage) set(tenantID string, t models.UsageType, n int) {
	start, _ := models.UsagePeriod(time.Now())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[usageKey(tenantID, t, start)] = n
}

type testServer struct {
	*httptest.Server
	issuer *session.Issuer
	usage  *memoryUsage
}

func newTestServer(t *testing.T, rateLimit int) *testServer {
	t.Helper()
	logger := zap.NewNop()
	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{AllowedOrigins: []string{"http://localhost:*"}},
		Session: config.SessionConfig{
			TTL:           time.Hour,
			SigningSecret: "0123456789abcdef0123456789abcdef",
			Issuer:        "revai-concierge",
			CookieName:    "session",
		},
		Observability: config.ObservabilityConfig{MetricsEnabled: true},
	}
	sessionCfg := session.Config{SigningSecret: cfg.Session.SigningSecret, TTL: cfg.Session.TTL, Issuer: cfg.Session.Issuer}

	metrics := observability.NewMetrics()
	revocations := session.NewMemoryRevocationStore(nil)
	resolver := entitlement.NewResolver(&planProvider{plans: map[string]models.Plan{
		basicTenant: models.PlanBasic,
		proTenant:   models.PlanPro,
	}}, entitlement.Config{}, logger, entitlement.WithMetrics(metrics))
	verifier := session.NewVerifier(sessionCfg, nil)
	counters := &memoryUsage{counts: make(map[string]int)}

	deps := &app.Dependencies{
		Config:      cfg,
		Logger:      logger,
		Metrics:     metrics,
		Issuer:      session.NewIssuer(sessionCfg, nil),
		Verifier:    verifier,
		Revocations: revocations,
		Resolver:    resolver,
		Guard: access.NewGuard(verifier, resolver, logger,
			access.WithRevocationStore(revocations),
			access.WithMetrics(metrics)),
		Usage: usage.NewService(counters, logger, usage.WithMetrics(metrics)),
		Webhooks: billing.NewWebhookProcessor(billing.WebhookConfig{
			Secret: "whsec_test",
			Sink:   resolver,
		}, logger),
	}
	if rateLimit > 0 {
		deps.RateLimiter = middleware.NewRateLimiter(rateLimit, time.Minute, logger)
	}

	ts := httptest.NewServer(SetupRoutes(deps))
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, issuer: deps.Issuer, usage: counters}
}

func (s *testServer) token(t *testing.T, tenantID string, role models.UserRole) string {
	t.Helper()
	sess, err := s.issuer.Issue(models.Identity{
		UserID:   "5f0c2a4e-3b7d-4a8e-9f1c-2d6b8e0a1c3f",
		TenantID: tenantID,
		Email:    "owner@acme.test",
		Role:     role,
	})
	require.NoError(t, err)
	return sess.Token
}

func (s *testServer) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestEntitlementGatedRoutes(t *testing.T) {
	ts := newTestServer(t, 0)
	basic := ts.token(t, basicTenant, models.RoleUser)
	proAdmin := ts.token(t, proTenant, models.RoleAdmin)

	testCases := []struct {
		name           string
		method         string
		path           string
		token          string
		body           string
		expectedStatus int
	}{
		{"no token", "GET", "/api/v1/subscription", "", "", http.StatusUnauthorized},
		{"garbage token", "GET", "/api/v1/subscription", "not-a-jwt", "", http.StatusUnauthorized},
		{"subscription", "GET", "/api/v1/subscription", basic, "", http.StatusOK},
		{"session", "GET", "/api/v1/auth/session", basic, "", http.StatusOK},
		{"dry run", "GET", "/api/v1/entitlements/feature:analytics", basic, "", http.StatusOK},
		{"basic lacks analytics", "GET", "/api/v1/reviews/insights", basic, "", http.StatusPaymentRequired},
		{"pro has analytics", "GET", "/api/v1/reviews/insights", proAdmin, "", http.StatusOK},
		{"basic has ai replies", "POST", "/api/v1/replies/generate", basic, `{"review_id":"r-1","review_text":"Great"}`, http.StatusOK},
		{"admin requires role", "GET", "/api/v1/admin/cache", basic, "", http.StatusForbidden},
		{"admin stats", "GET", "/api/v1/admin/cache", proAdmin, "", http.StatusOK},
		{"admin invalidate", "DELETE", "/api/v1/admin/cache", proAdmin, "", http.StatusOK},
		{"unknown route", "GET", "/api/v1/nonexistent", basic, "", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := ts.do(t, tc.method, tc.path, tc.token, tc.body)
			assert.Equal(t, tc.expectedStatus, resp.StatusCode, "endpoint: %s %s", tc.method, tc.path)
		})
	}
}

func TestInsufficientEntitlementBody(t *testing.T) {
	ts := newTestServer(t, 0)

	resp := ts.do(t, "GET", "/api/v1/reviews/insights", ts.token(t, basicTenant, models.RoleUser), "")
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "insufficient_entitlement", body["code"])
}

func TestReplyQuota(t *testing.T) {
	ts := newTestServer(t, 0)
	token := ts.token(t, basicTenant, models.RoleUser)
	limit := models.PlanBasic.Limits().MaxAIRepliesPerMonth
	ts.usage.set(basicTenant, models.UsageAIReply, limit-1)

	resp := ts.do(t, "POST", "/api/v1/replies/generate", token, `{"review_id":"r-1","review_text":"Great"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get(handlers.HeaderUsageRemaining))
	assert.NotEmpty(t, resp.Header.Get(handlers.HeaderUsageWarning))

	resp = ts.do(t, "POST", "/api/v1/replies/generate", token, `{"review_id":"r-2","review_text":"Great"}`)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "usage_limit_exceeded", body["code"])

	t.Run("other tenants keep their quota", func(t *testing.T) {
		resp := ts.do(t, "POST", "/api/v1/replies/generate", ts.token(t, proTenant, models.RoleUser), `{"review_id":"r-3","review_text":"Great"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("insights report consumption", func(t *testing.T) {
		resp := ts.do(t, "GET", "/api/v1/reviews/insights", ts.token(t, proTenant, models.RoleUser), "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var envelope struct {
			Data handlers.InsightsResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
		require.Len(t, envelope.Data.Usage, 2)
		assert.Equal(t, models.UsageAIReply, envelope.Data.Usage[1].Type)
		assert.Equal(t, 1, envelope.Data.Usage[1].Used)
	})
}

func TestLogoutRevokesSession(t *testing.T) {
	ts := newTestServer(t, 0)
	token := ts.token(t, basicTenant, models.RoleUser)

	resp := ts.do(t, "POST", "/api/v1/auth/logout", token, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, "GET", "/api/v1/auth/session", token, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "session_revoked", body["code"])
}

func TestSessionCookie(t *testing.T) {
	ts := newTestServer(t, 0)

	req, err := http.NewRequest("GET", ts.URL+"/api/v1/auth/session", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "session", Value: ts.token(t, proTenant, models.RoleAdmin)})

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimiting(t *testing.T) {
	ts := newTestServer(t, 2)

	for i := 0; i < 2; i++ {
		resp := ts.do(t, "POST", "/api/v1/auth/login", "", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))
	}

	resp := ts.do(t, "POST", "/api/v1/auth/login", "", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	t.Run("auth traffic does not drain the api bucket", func(t *testing.T) {
		resp := ts.do(t, "GET", "/api/v1/subscription", ts.token(t, basicTenant, models.RoleUser), "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "1", resp.Header.Get("X-RateLimit-Remaining"))
	})

	t.Run("webhooks are not limited", func(t *testing.T) {
		resp := ts.do(t, "POST", "/webhooks/stripe", "", `{"id":"evt_1"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unsigned payload is rejected, not throttled")
	})
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.do(t, "GET", "/api/v1/reviews/insights", ts.token(t, basicTenant, models.RoleUser), "")

	resp := ts.do(t, "GET", "/metrics", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "concierge_access_decisions_total")
	assert.Contains(t, string(raw), `route="/api/v1/reviews/insights"`)
}
