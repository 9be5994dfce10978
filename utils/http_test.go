package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return response
}

func TestWriteJSON(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteJSON(w, http.StatusOK, map[string]string{"message": "test"})
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "test", response["message"])
	})

	t.Run("nil data", func(t *testing.T) {
		w := httptest.NewRecorder()

		require.NoError(t, WriteJSON(w, http.StatusNoContent, nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteOK(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteOK(w, map[string]string{"plan": "pro"}))
	assert.Equal(t, http.StatusOK, w.Code)

	var response SuccessResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "pro", response.Data.(map[string]interface{})["plan"])
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name        string
		write       func(w http.ResponseWriter) error
		wantStatus  int
		wantError   string
		wantCode    string
		wantMessage string
	}{
		{
			name:        "bad request",
			write:       func(w http.ResponseWriter) error { return WriteBadRequest(w, "bad input", nil) },
			wantStatus:  http.StatusBadRequest,
			wantError:   "bad_request",
			wantMessage: "bad input",
		},
		{
			name:        "unauthorized default message",
			write:       func(w http.ResponseWriter) error { return WriteUnauthorized(w, "missing_token", "") },
			wantStatus:  http.StatusUnauthorized,
			wantError:   "unauthorized",
			wantCode:    "missing_token",
			wantMessage: "Authentication required",
		},
		{
			name:        "payment required",
			write:       func(w http.ResponseWriter) error { return WritePaymentRequired(w, "insufficient_entitlement", "", nil) },
			wantStatus:  http.StatusPaymentRequired,
			wantError:   "payment_required",
			wantCode:    "insufficient_entitlement",
			wantMessage: "Subscription does not include this feature",
		},
		{
			name:        "forbidden",
			write:       func(w http.ResponseWriter) error { return WriteForbidden(w, "insufficient_role", "admins only") },
			wantStatus:  http.StatusForbidden,
			wantError:   "forbidden",
			wantCode:    "insufficient_role",
			wantMessage: "admins only",
		},
		{
			name:        "not found",
			write:       func(w http.ResponseWriter) error { return WriteNotFound(w, "") },
			wantStatus:  http.StatusNotFound,
			wantError:   "not_found",
			wantMessage: "Resource not found",
		},
		{
			name:        "conflict",
			write:       func(w http.ResponseWriter) error { return WriteConflict(w, "exists", nil) },
			wantStatus:  http.StatusConflict,
			wantError:   "conflict",
			wantMessage: "exists",
		},
		{
			name:        "internal error",
			write:       func(w http.ResponseWriter) error { return WriteInternalServerError(w, "") },
			wantStatus:  http.StatusInternalServerError,
			wantError:   "internal_error",
			wantMessage: "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, tt.write(w))

			assert.Equal(t, tt.wantStatus, w.Code)
			response := decodeError(t, w)
			assert.Equal(t, tt.wantError, response.Error)
			assert.Equal(t, tt.wantCode, response.Code)
			assert.Equal(t, tt.wantMessage, response.Message)
		})
	}
}

func TestWriteTooManyRequests(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteTooManyRequests(w, 1500*time.Millisecond, ""))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	response := decodeError(t, w)
	assert.Equal(t, "rate_limit_exceeded", response.Code)
	assert.Equal(t, "Rate limit exceeded", response.Message)
}

func TestWriteQuotaExceeded(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteQuotaExceeded(w, "usage_limit_exceeded", "", map[string]interface{}{"limit": 20}))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Empty(t, w.Header().Get("Retry-After"))
	response := decodeError(t, w)
	assert.Equal(t, "too_many_requests", response.Error)
	assert.Equal(t, "usage_limit_exceeded", response.Code)
	assert.Equal(t, "Usage limit reached", response.Message)
	assert.EqualValues(t, 20, response.Details["limit"])
}

func TestWriteServiceUnavailable(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteServiceUnavailable(w, 30*time.Second, "billing_provider_unavailable", ""))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	response := decodeError(t, w)
	assert.Equal(t, "service_unavailable", response.Error)
	assert.Equal(t, "billing_provider_unavailable", response.Code)
}

func TestSetRetryAfter(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "1"},
		{-time.Second, "1"},
		{time.Millisecond, "1"},
		{time.Second, "1"},
		{61 * time.Second, "61"},
	}

	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			w := httptest.NewRecorder()
			SetRetryAfter(w, tt.in)
			assert.Equal(t, tt.want, w.Header().Get("Retry-After"))
		})
	}
}
