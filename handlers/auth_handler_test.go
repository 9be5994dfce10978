package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/revai/concierge/middleware"
	"github.com/revai/concierge/models"
	"github.com/revai/concierge/services"
	"github.com/revai/concierge/services/access"
	"github.com/revai/concierge/services/credentials"
	"github.com/revai/concierge/services/session"
	"github.com/revai/concierge/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var testNow = time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)

// MockCredentialFinder is a mock implementation of CredentialFinder
type MockCredentialFinder struct {
	mock.Mock
}

func (m *MockCredentialFinder) FindByCredential(ctx context.Context, cred credentials.Credential) (models.Identity, error) {
	args := m.Called(ctx, cred)
	return args.Get(0).(models.Identity), args.Error(1)
}

// recordingRecorder captures audit entries
type recordingRecorder struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (r *recordingRecorder) Record(entry *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

type failingRevoker struct{}

func (failingRevoker) Revoke(context.Context, string, time.Time) error {
	return errors.New("redis: connection refused")
}

func testIdentity() models.Identity {
	return models.Identity{
		UserID:   "5f0c2a4e-3b7d-4a8e-9f1c-2d6b8e0a1c3f",
		TenantID: "9a1b2c3d-4e5f-4a6b-8c7d-0e1f2a3b4c5d",
		Email:    "owner@acme.test",
		Role:     models.RoleAdmin,
	}
}

func clockAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// withDecision puts an allowed decision for sess into the request context
func withDecision(r *http.Request, sess *models.Session, snap *models.SubscriptionSnapshot) *http.Request {
	d := &access.Decision{
		Allowed:    true,
		Capability: access.CapabilityAuthenticated,
		Stage:      access.StageEntitlementResolved,
		Context: &access.DecisionContext{
			Identity:     sess.Identity,
			Session:      sess,
			Subscription: snap,
		},
	}
	return r.WithContext(middleware.WithDecision(r.Context(), d))
}

type authFixture struct {
	handler     *AuthHandler
	finder      *MockCredentialFinder
	issuer      *session.Issuer
	revocations *session.MemoryRevocationStore
	audit       *recordingRecorder
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{
		finder:      new(MockCredentialFinder),
		issuer:      session.NewIssuer(session.Config{SigningSecret: testSecret, TTL: time.Hour, Issuer: "test"}, clockAt(testNow)),
		revocations: session.NewMemoryRevocationStore(clockAt(testNow)),
		audit:       &recordingRecorder{},
	}
	f.handler = NewAuthHandler(f.finder, f.issuer, f.revocations, f.audit, CookieConfig{Secure: true}, zap.NewNop())
	f.handler.now = clockAt(testNow.Add(10 * time.Minute))
	return f
}

func loginRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHandleLogin(t *testing.T) {
	t.Run("issues session and sets cookie", func(t *testing.T) {
		f := newAuthFixture(t)
		cred := credentials.Credential{Email: "owner@acme.test", Password: "correct-horse"}
		f.finder.On("FindByCredential", mock.Anything, cred).Return(testIdentity(), nil)

		w := httptest.NewRecorder()
		f.handler.HandleLogin(w, loginRequest(`{"email":"owner@acme.test","password":"correct-horse"}`))

		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Data SessionResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.NotEmpty(t, body.Data.Token)
		assert.Equal(t, testIdentity(), body.Data.Identity)
		assert.Equal(t, testNow.Add(time.Hour), body.Data.ExpiresAt)
		assert.Equal(t, int64(50*60), body.Data.ExpiresIn)

		cookies := w.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, middleware.DefaultSessionCookie, cookies[0].Name)
		assert.Equal(t, body.Data.Token, cookies[0].Value)
		assert.True(t, cookies[0].HttpOnly)
		assert.True(t, cookies[0].Secure)
		assert.Equal(t, 3600, cookies[0].MaxAge)

		require.Len(t, f.audit.entries, 1)
		assert.Equal(t, models.AuditActionLoginSucceeded, f.audit.entries[0].Action)
		assert.Equal(t, body.Data.SessionID, f.audit.entries[0].ResourceID)
		f.finder.AssertExpectations(t)
	})

	t.Run("issued token verifies", func(t *testing.T) {
		f := newAuthFixture(t)
		f.finder.On("FindByCredential", mock.Anything, mock.Anything).Return(testIdentity(), nil)

		w := httptest.NewRecorder()
		f.handler.HandleLogin(w, loginRequest(`{"email":"owner@acme.test","password":"correct-horse"}`))
		require.Equal(t, http.StatusOK, w.Code)

		verifier := session.NewVerifier(session.Config{SigningSecret: testSecret, TTL: time.Hour, Issuer: "test"}, clockAt(testNow.Add(time.Minute)))
		sess, err := verifier.Verify(w.Result().Cookies()[0].Value)
		require.NoError(t, err)
		assert.Equal(t, testIdentity(), sess.Identity)
	})

	rejections := []struct {
		name   string
		err    error
		reason string
	}{
		{"unknown email", services.ErrNotFound, "not_found"},
		{"wrong password", services.ErrInvalidCredentials, "invalid_credentials"},
	}
	for _, tt := range rejections {
		t.Run(tt.name+" is unauthorized", func(t *testing.T) {
			f := newAuthFixture(t)
			f.finder.On("FindByCredential", mock.Anything, mock.Anything).Return(models.Identity{}, tt.err)

			w := httptest.NewRecorder()
			f.handler.HandleLogin(w, loginRequest(`{"email":"owner@acme.test","password":"wrong-horse"}`))

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			var body utils.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, "invalid_credentials", body.Code)
			assert.Empty(t, w.Result().Cookies())

			require.Len(t, f.audit.entries, 1)
			assert.Equal(t, models.AuditActionLoginFailed, f.audit.entries[0].Action)
			assert.Contains(t, string(f.audit.entries[0].Details), tt.reason)
		})
	}

	t.Run("invalid body is a bad request", func(t *testing.T) {
		f := newAuthFixture(t)

		for _, body := range []string{``, `{"email":"nope"}`, `{"email":"owner@acme.test","password":"short"}`} {
			w := httptest.NewRecorder()
			f.handler.HandleLogin(w, loginRequest(body))
			assert.Equal(t, http.StatusBadRequest, w.Code, body)
		}
		f.finder.AssertNotCalled(t, "FindByCredential", mock.Anything, mock.Anything)
	})

	t.Run("store failure is internal", func(t *testing.T) {
		f := newAuthFixture(t)
		f.finder.On("FindByCredential", mock.Anything, mock.Anything).
			Return(models.Identity{}, services.WrapInternal("credential lookup failed", errors.New("pq: timeout")))

		w := httptest.NewRecorder()
		f.handler.HandleLogin(w, loginRequest(`{"email":"owner@acme.test","password":"correct-horse"}`))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Empty(t, f.audit.entries)
	})

	t.Run("missing signing secret is internal", func(t *testing.T) {
		f := newAuthFixture(t)
		f.handler.issuer = session.NewIssuer(session.Config{TTL: time.Hour}, clockAt(testNow))
		f.finder.On("FindByCredential", mock.Anything, mock.Anything).Return(testIdentity(), nil)

		w := httptest.NewRecorder()
		f.handler.HandleLogin(w, loginRequest(`{"email":"owner@acme.test","password":"correct-horse"}`))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Empty(t, w.Result().Cookies())
	})
}

func TestHandleLogout(t *testing.T) {
	t.Run("revokes session and clears cookie", func(t *testing.T) {
		f := newAuthFixture(t)
		sess, err := f.issuer.Issue(testIdentity())
		require.NoError(t, err)

		req := withDecision(httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil), sess, nil)
		w := httptest.NewRecorder()
		f.handler.HandleLogout(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)

		revoked, err := f.revocations.IsRevoked(context.Background(), sess.ID)
		require.NoError(t, err)
		assert.True(t, revoked)

		cookies := w.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Empty(t, cookies[0].Value)
		assert.Less(t, cookies[0].MaxAge, 0)

		require.Len(t, f.audit.entries, 1)
		assert.Equal(t, models.AuditActionLogout, f.audit.entries[0].Action)
	})

	t.Run("without session is unauthorized", func(t *testing.T) {
		f := newAuthFixture(t)
		w := httptest.NewRecorder()
		f.handler.HandleLogout(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("revocation failure keeps cookie", func(t *testing.T) {
		f := newAuthFixture(t)
		f.handler.revoker = failingRevoker{}
		sess, err := f.issuer.Issue(testIdentity())
		require.NoError(t, err)

		req := withDecision(httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil), sess, nil)
		w := httptest.NewRecorder()
		f.handler.HandleLogout(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Empty(t, w.Result().Cookies())
		assert.Empty(t, f.audit.entries)
	})
}

func TestHandleSession(t *testing.T) {
	f := newAuthFixture(t)
	sess, err := f.issuer.Issue(testIdentity())
	require.NoError(t, err)

	req := withDecision(httptest.NewRequest(http.MethodGet, "/api/v1/auth/session", nil), sess, nil)
	w := httptest.NewRecorder()
	f.handler.HandleSession(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data SessionResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, sess.ID, body.Data.SessionID)
	assert.Empty(t, body.Data.Token, "token is only returned at login")
	assert.Equal(t, int64(50*60), body.Data.ExpiresIn)
}
