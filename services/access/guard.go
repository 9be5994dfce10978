// Package access decides whether a session token may use a capability.
//
// A request moves through Unchecked, SessionVerified and
// EntitlementResolved before it is Decided. Session and entitlement
// failures become denials carrying a stable reason code; only
// infrastructure failures, such as a missing signing secret or a canceled
// request, are returned as errors.
package access

import (
	"context"
	"errors"

	"github.com/revai/concierge/internal/observability"
	"github.com/revai/concierge/models"
	"github.com/revai/concierge/services"
	"github.com/revai/concierge/services/session"
	"go.uber.org/zap"
)

// Stage is how far a request got before it was decided
type Stage string

const (
	StageUnchecked           Stage = "unchecked"
	StageSessionVerified     Stage = "session_verified"
	StageEntitlementResolved Stage = "entitlement_resolved"
)

// DecisionContext is what the guard learned about the caller
type DecisionContext struct {
	Identity     models.Identity              `json:"identity"`
	Session      *models.Session              `json:"session"`
	Subscription *models.SubscriptionSnapshot `json:"subscription,omitempty"`
}

// Decision is the per-request outcome. It is never persisted.
type Decision struct {
	Allowed    bool                `json:"allowed"`
	Capability Capability          `json:"capability"`
	Reason     services.ReasonCode `json:"reason,omitempty"`
	Stage      Stage               `json:"stage"`
	Context    *DecisionContext    `json:"context,omitempty"`
}

// SessionVerifier turns a token into a session
type SessionVerifier interface {
	Verify(token string) (*models.Session, error)
}

// EntitlementResolver turns a tenant into its subscription snapshot
type EntitlementResolver interface {
	Resolve(ctx context.Context, tenantID string) (*models.SubscriptionSnapshot, error)
}

// Option configures a Guard
type Option func(*Guard)

// WithRevocationStore rejects sessions ended by logout
func WithRevocationStore(store session.RevocationStore) Option {
	return func(g *Guard) {
		g.revocations = store
	}
}

// WithMetrics counts decisions
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// Guard combines the session verifier and the entitlement resolver
type Guard struct {
	verifier    SessionVerifier
	resolver    EntitlementResolver
	revocations session.RevocationStore
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// NewGuard creates a Guard
func NewGuard(verifier SessionVerifier, resolver EntitlementResolver, logger *zap.Logger, opts ...Option) *Guard {
	g := &Guard{
		verifier: verifier,
		resolver: resolver,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize decides whether token may use capability
func (g *Guard) Authorize(ctx context.Context, token string, capability Capability) (*Decision, error) {
	d := &Decision{Capability: capability, Stage: StageUnchecked}

	sess, err := g.verifier.Verify(token)
	if err != nil {
		reason := services.GetReasonCode(err)
		if !reason.RequiresLogin() {
			return nil, err
		}
		return g.deny(d, reason), nil
	}

	if g.revocations != nil {
		revoked, err := g.revocations.IsRevoked(ctx, sess.ID)
		if err != nil {
			g.logger.Warn("revocation lookup failed, treating session as active",
				zap.String("session_id", sess.ID),
				zap.Error(err))
		} else if revoked {
			return g.deny(d, services.ReasonSessionRevoked), nil
		}
	}

	d.Stage = StageSessionVerified
	d.Context = &DecisionContext{Identity: sess.Identity, Session: sess}

	snap, err := g.resolver.Resolve(ctx, sess.Identity.TenantID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return nil, ctxErr
		}
		if !capability.RequiresBilling() {
			g.logger.Debug("subscription unavailable for session-only capability",
				zap.String("tenant_id", sess.Identity.TenantID),
				zap.Error(err))
			return g.allow(d), nil
		}
		if !services.IsExternalError(err) {
			g.logger.Error("entitlement resolution failed",
				zap.String("tenant_id", sess.Identity.TenantID),
				zap.Error(err))
		}
		return g.deny(d, services.ReasonBillingProviderUnavailable), nil
	}

	d.Stage = StageEntitlementResolved
	d.Context.Subscription = snap

	if !capability.grantedBy(snap) {
		return g.deny(d, services.ReasonInsufficientEntitlement), nil
	}
	return g.allow(d), nil
}

func (g *Guard) allow(d *Decision) *Decision {
	d.Allowed = true
	g.metrics.RecordDecision(string(d.Capability), true, "")
	return d
}

func (g *Guard) deny(d *Decision, reason services.ReasonCode) *Decision {
	d.Allowed = false
	d.Reason = reason
	g.metrics.RecordDecision(string(d.Capability), false, string(reason))
	if d.Context != nil {
		g.logger.Debug("access denied",
			zap.String("capability", string(d.Capability)),
			zap.String("reason", string(reason)),
			zap.String("tenant_id", d.Context.Identity.TenantID),
			zap.String("user_id", d.Context.Identity.UserID))
	}
	return d
}

// Err returns the denial as a DomainError, or nil when allowed
func (d *Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case services.ReasonMissingToken:
		return services.ErrMissingToken
	case services.ReasonInvalidSignature:
		return services.ErrInvalidSignature
	case services.ReasonSessionExpired:
		return services.ErrSessionExpired
	case services.ReasonSessionRevoked:
		return services.ErrSessionRevoked
	case services.ReasonBillingProviderUnavailable:
		return services.ErrBillingProviderUnavailable
	default:
		return services.ErrInsufficientEntitlement.WithDetail("capability", string(d.Capability))
	}
}
