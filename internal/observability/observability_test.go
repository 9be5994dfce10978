package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"json info", "info", "json", false},
		{"console debug", "debug", "console", false},
		{"defaults", "", "", false},
		{"upper case level", "WARN", "json", false},
		{"invalid level", "verbose", "json", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, logger)
				assert.Contains(t, err.Error(), "invalid log level")
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			_ = logger.Sync()
		})
	}
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordDecision("feature:analytics", false, "insufficient_entitlement")
	m.RecordDecision("feature:analytics", false, "insufficient_entitlement")
	m.RecordCache(CacheHit)
	m.RecordCache(CacheMiss)
	m.RecordFetch(FetchSuccess, 20*time.Millisecond)
	m.RecordRequest("GET", "/api/v1/subscription", 200)
	m.RecordUsage("ai_reply", UsageExceeded)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AccessDecisions.WithLabelValues("feature:analytics", "false", "insufficient_entitlement")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntitlementCache.WithLabelValues(CacheHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntitlementFetches.WithLabelValues(FetchSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/subscription", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UsageTotal.WithLabelValues("ai_reply", UsageExceeded)))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordDecision("authenticated", true, "")
		m.RecordCache(CacheStale)
		m.RecordFetch(FetchError, time.Second)
		m.RecordRequest("GET", "/", 200)
		m.RecordUsage("review", UsageConsumed)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordCache(CacheStale)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `concierge_entitlement_cache_total{result="stale"} 1`)
}
