package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/revai/concierge/models"
	"github.com/revai/concierge/services"
	"github.com/revai/concierge/services/access"
	"github.com/revai/concierge/utils"
	"go.uber.org/zap"
)

// DefaultSessionCookie is the cookie the login handler sets
const DefaultSessionCookie = "session"

// DefaultRetryAfter is advertised when the billing provider is unavailable
const DefaultRetryAfter = 30 * time.Second

// Authorizer decides whether a token may use a capability
type Authorizer interface {
	Authorize(ctx context.Context, token string, capability access.Capability) (*access.Decision, error)
}

// AccessMiddleware guards routes with the access guard
type AccessMiddleware struct {
	guard      Authorizer
	logger     *zap.Logger
	cookieName string
	retryAfter time.Duration
}

// AccessOption configures an AccessMiddleware
type AccessOption func(*AccessMiddleware)

// WithCookieName sets the session cookie consulted when no Authorization header is sent
func WithCookieName(name string) AccessOption {
	return func(m *AccessMiddleware) {
		if name != "" {
			m.cookieName = name
		}
	}
}

// WithRetryAfter sets the Retry-After sent with billing_provider_unavailable
func WithRetryAfter(d time.Duration) AccessOption {
	return func(m *AccessMiddleware) {
		if d > 0 {
			m.retryAfter = d
		}
	}
}

// NewAccessMiddleware creates a new AccessMiddleware
func NewAccessMiddleware(guard Authorizer, logger *zap.Logger, opts ...AccessOption) *AccessMiddleware {
	m := &AccessMiddleware{
		guard:      guard,
		logger:     logger,
		cookieName: DefaultSessionCookie,
		retryAfter: DefaultRetryAfter,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Require admits the request only when the guard allows capability.
// The allowed decision is stored in the request context.
func (m *AccessMiddleware) Require(capability access.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			decision, err := m.guard.Authorize(ctx, ExtractToken(r, m.cookieName), capability)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					m.logger.Debug("request canceled during authorization",
						zap.String("request_id", requestID))
					return
				}
				m.logger.Error("authorization failed",
					zap.String("request_id", requestID),
					zap.String("capability", string(capability)),
					zap.Error(err))
				_ = utils.WriteInternalServerError(w, "")
				return
			}

			if !decision.Allowed {
				m.logger.Info("access denied",
					zap.String("request_id", requestID),
					zap.String("capability", string(capability)),
					zap.String("reason", string(decision.Reason)),
					zap.String("stage", string(decision.Stage)))
				WriteDenial(w, decision, m.retryAfter)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithDecision(ctx, decision)))
		})
	}
}

// RequireRole admits the request only when the caller has role.
// It must run after Require.
func (m *AccessMiddleware) RequireRole(role models.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, ok := GetIdentityFromContext(ctx)
			if !ok {
				m.logger.Error("identity not found in context",
					zap.String("request_id", GetRequestIDFromContext(ctx)))
				_ = utils.WriteUnauthorized(w, string(services.ReasonMissingToken), "")
				return
			}

			if identity.Role != role {
				m.logger.Warn("insufficient role",
					zap.String("request_id", GetRequestIDFromContext(ctx)),
					zap.String("user_id", identity.UserID),
					zap.String("required_role", string(role)))
				_ = utils.WriteForbidden(w, string(services.ReasonInsufficientRole), "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteDenial writes the HTTP response for a denied decision
func WriteDenial(w http.ResponseWriter, d *access.Decision, retryAfter time.Duration) {
	code := string(d.Reason)
	var message string
	var domainErr *services.DomainError
	if errors.As(d.Err(), &domainErr) {
		message = domainErr.Message
	}

	switch {
	case d.Reason.RequiresLogin():
		_ = utils.WriteUnauthorized(w, code, message)
	case d.Reason == services.ReasonInsufficientEntitlement:
		_ = utils.WritePaymentRequired(w, code, message, map[string]interface{}{
			"capability": string(d.Capability),
		})
	case d.Reason == services.ReasonBillingProviderUnavailable:
		_ = utils.WriteServiceUnavailable(w, retryAfter, code, message)
	default:
		_ = utils.WriteForbidden(w, code, message)
	}
}

// ExtractToken returns the bearer token, or the session cookie when no Authorization header is present
func ExtractToken(r *http.Request, cookieName string) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookie, err := r.Cookie(cookieName); err == nil {
		return cookie.Value
	}
	return ""
}
