package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/revai/concierge/middleware"
	"github.com/revai/concierge/models"
	"github.com/revai/concierge/services"
	"github.com/revai/concierge/services/audit"
	"github.com/revai/concierge/services/credentials"
	"github.com/revai/concierge/utils"
	"go.uber.org/zap"
)

// CredentialFinder resolves a login credential to an identity
type CredentialFinder interface {
	FindByCredential(ctx context.Context, cred credentials.Credential) (models.Identity, error)
}

// SessionIssuer signs new sessions
type SessionIssuer interface {
	Issue(identity models.Identity) (*models.Session, error)
}

// SessionRevoker ends sessions before their expiry
type SessionRevoker interface {
	Revoke(ctx context.Context, sessionID string, expiresAt time.Time) error
}

// CookieConfig describes the session cookie
type CookieConfig struct {
	Name   string
	Secure bool
}

// SessionResponse is the public view of a session
type SessionResponse struct {
	SessionID string          `json:"session_id"`
	Token     string          `json:"token,omitempty"`
	Identity  models.Identity `json:"identity"`
	IssuedAt  time.Time       `json:"issued_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	ExpiresIn int64           `json:"expires_in"`
}

// AuthHandler handles login, logout and session introspection
type AuthHandler struct {
	credentials CredentialFinder
	issuer      SessionIssuer
	revoker     SessionRevoker
	audit       audit.Recorder
	cookie      CookieConfig
	logger      *zap.Logger
	now         func() time.Time
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(creds CredentialFinder, issuer SessionIssuer, revoker SessionRevoker, recorder audit.Recorder, cookie CookieConfig, logger *zap.Logger) *AuthHandler {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if cookie.Name == "" {
		cookie.Name = middleware.DefaultSessionCookie
	}
	return &AuthHandler{
		credentials: creds,
		issuer:      issuer,
		revoker:     revoker,
		audit:       recorder,
		cookie:      cookie,
		logger:      logger,
		now:         time.Now,
	}
}

// HandleLogin handles POST /api/v1/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	meta := requestMeta(r)

	var cred credentials.Credential
	if err := utils.DecodeJSON(r, &cred); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	identity, err := h.credentials.FindByCredential(ctx, cred)
	if err != nil {
		if services.IsNotFoundError(err) || services.IsUnauthorizedError(err) {
			h.logger.Info("login rejected",
				zap.String("request_id", requestID),
				zap.String("reason", string(services.GetReasonCode(err))))
			h.record(audit.LoginFailed(cred.Email, string(services.GetReasonCode(err)), meta))
			// Unknown email and wrong password look the same to the client
			_ = utils.WriteUnauthorized(w, string(services.ReasonInvalidCredentials), "Invalid email or password")
			return
		}
		HandleServiceError(w, err, h.logger)
		return
	}

	sess, err := h.issuer.Issue(identity)
	if err != nil {
		h.logger.Error("failed to issue session",
			zap.String("request_id", requestID),
			zap.String("user_id", identity.UserID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.setCookie(w, sess)
	h.record(audit.LoginSucceeded(identity, sess.ID, meta))

	h.logger.Info("login succeeded",
		zap.String("request_id", requestID),
		zap.String("tenant_id", identity.TenantID),
		zap.String("user_id", identity.UserID))

	resp := h.sessionResponse(sess)
	resp.Token = sess.Token
	_ = utils.WriteOK(w, resp)
}

// HandleLogout handles POST /api/v1/auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := middleware.GetSessionFromContext(ctx)
	if sess == nil {
		_ = utils.WriteUnauthorized(w, string(services.ReasonMissingToken), "")
		return
	}

	if h.revoker != nil {
		if err := h.revoker.Revoke(ctx, sess.ID, sess.ExpiresAt); err != nil {
			HandleServiceError(w, services.WrapInternal("failed to revoke session", err), h.logger)
			return
		}
	}

	h.clearCookie(w)
	h.record(audit.Logout(sess, requestMeta(r)))

	h.logger.Info("logout",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("session_id", sess.ID))

	utils.WriteNoContent(w)
}

// HandleSession handles GET /api/v1/auth/session
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSessionFromContext(r.Context())
	if sess == nil {
		_ = utils.WriteUnauthorized(w, string(services.ReasonMissingToken), "")
		return
	}
	_ = utils.WriteOK(w, h.sessionResponse(sess))
}

func (h *AuthHandler) sessionResponse(sess *models.Session) SessionResponse {
	return SessionResponse{
		SessionID: sess.ID,
		Identity:  sess.Identity,
		IssuedAt:  sess.IssuedAt,
		ExpiresAt: sess.ExpiresAt,
		ExpiresIn: int64(sess.Remaining(h.now()).Seconds()),
	}
}

func (h *AuthHandler) setCookie(w http.ResponseWriter, sess *models.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(sess.ExpiresAt.Sub(sess.IssuedAt).Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// record writes an audit entry; a full buffer is logged, never surfaced
func (h *AuthHandler) record(entry *models.AuditLog) {
	if err := h.audit.Record(entry); err != nil {
		h.logger.Warn("audit entry dropped",
			zap.String("action", string(entry.Action)),
			zap.Error(err))
	}
}

func requestMeta(r *http.Request) audit.Request {
	return audit.Request{
		ID:        middleware.GetRequestIDFromContext(r.Context()),
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}
