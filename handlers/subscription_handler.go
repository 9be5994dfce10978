package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/revai/concierge/middleware"
	"github.com/revai/concierge/models"
	"github.com/revai/concierge/services"
	"github.com/revai/concierge/services/access"
	"github.com/revai/concierge/utils"
	"go.uber.org/zap"
)

// SnapshotResolver returns a tenant's subscription snapshot
type SnapshotResolver interface {
	Resolve(ctx context.Context, tenantID string) (*models.SubscriptionSnapshot, error)
}

// SubscriptionResponse is the tenant's billing view
type SubscriptionResponse struct {
	Subscription *models.SubscriptionSnapshot `json:"subscription"`
	Entitled     bool                         `json:"entitled"`
	Limits       models.PlanLimits            `json:"limits"`
}

// EntitlementCheckResponse is the outcome of a dry-run authorization
type EntitlementCheckResponse struct {
	Capability access.Capability `json:"capability"`
	Allowed    bool              `json:"allowed"`
	Reason     string            `json:"reason,omitempty"`
	Stage      access.Stage      `json:"stage"`
	Plan       models.Plan       `json:"plan,omitempty"`
}

// SubscriptionHandler serves subscription state and entitlement checks
type SubscriptionHandler struct {
	resolver SnapshotResolver
	guard    middleware.Authorizer
	logger   *zap.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler
func NewSubscriptionHandler(resolver SnapshotResolver, guard middleware.Authorizer, logger *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		resolver: resolver,
		guard:    guard,
		logger:   logger,
	}
}

// HandleGetSubscription handles GET /api/v1/subscription
func (h *SubscriptionHandler) HandleGetSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := middleware.GetIdentityFromContext(ctx)
	if !ok {
		_ = utils.WriteUnauthorized(w, string(services.ReasonMissingToken), "")
		return
	}

	snap := middleware.GetSubscriptionFromContext(ctx)
	if snap == nil {
		var err error
		snap, err = h.resolver.Resolve(ctx, identity.TenantID)
		if err != nil {
			h.logger.Warn("subscription unavailable",
				zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
				zap.String("tenant_id", identity.TenantID),
				zap.Error(err))
			HandleServiceError(w, err, h.logger)
			return
		}
	}

	_ = utils.WriteOK(w, SubscriptionResponse{
		Subscription: snap,
		Entitled:     snap.Entitled(),
		Limits:       snap.Plan.Limits(),
	})
}

// HandleCheckEntitlement handles GET /api/v1/entitlements/{capability}.
// It reports what the guard would decide for the caller's session.
func (h *SubscriptionHandler) HandleCheckEntitlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := middleware.GetSessionFromContext(ctx)
	if sess == nil {
		_ = utils.WriteUnauthorized(w, string(services.ReasonMissingToken), "")
		return
	}

	capability, err := access.ParseCapability(chi.URLParam(r, "capability"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	decision, err := h.guard.Authorize(ctx, sess.Token, capability)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	resp := EntitlementCheckResponse{
		Capability: decision.Capability,
		Allowed:    decision.Allowed,
		Reason:     string(decision.Reason),
		Stage:      decision.Stage,
	}
	if decision.Context != nil && decision.Context.Subscription != nil {
		resp.Plan = decision.Context.Subscription.Plan
	}
	_ = utils.WriteOK(w, resp)
}
