package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/revai/concierge/middleware"
	"github.com/revai/concierge/models"
	"github.com/revai/concierge/services"
	"github.com/revai/concierge/services/access"
	"github.com/revai/concierge/services/audit"
	"github.com/revai/concierge/services/usage"
	"github.com/revai/concierge/utils"
	"go.uber.org/zap"
)

// DefaultReplyTone is available on every plan that includes AI replies
const DefaultReplyTone = "friendly"

// Usage headers on metered responses
const (
	HeaderUsageLimit     = "X-Usage-Limit"
	HeaderUsageRemaining = "X-Usage-Remaining"
	HeaderUsageWarning   = "X-Usage-Warning"
)

// UsageMeter checks and reports plan quotas
type UsageMeter interface {
	Consume(ctx context.Context, tenantID string, plan models.Plan, usageType models.UsageType) (*usage.Allowance, error)
	Report(ctx context.Context, tenantID string, plan models.Plan) ([]usage.Allowance, error)
}

// GenerateReplyRequest asks for an AI reply draft
type GenerateReplyRequest struct {
	ReviewID   string `json:"review_id" validate:"required,max=128"`
	ReviewText string `json:"review_text" validate:"required,max=5000"`
	Tone       string `json:"tone,omitempty" validate:"omitempty,oneof=friendly formal apologetic enthusiastic"`
}

// ReplyAuthorization grants one AI reply draft and reports the quota left
type ReplyAuthorization struct {
	ReviewID string          `json:"review_id"`
	Tone     string          `json:"tone"`
	Plan     models.Plan     `json:"plan"`
	Usage    usage.Allowance `json:"usage"`
}

// InsightsResponse is the analytics view for a tenant: plan limits and
// consumption for the current period
type InsightsResponse struct {
	TenantID     string            `json:"tenant_id"`
	Plan         models.Plan       `json:"plan"`
	MaxLocations int               `json:"max_locations"`
	Usage        []usage.Allowance `json:"usage"`
}

// ReviewsHandler serves the plan-gated review features. Both routes run
// behind the access middleware, so a decision is always in the context.
type ReviewsHandler struct {
	usage  UsageMeter
	audit  audit.Recorder
	logger *zap.Logger
}

// NewReviewsHandler creates a new ReviewsHandler
func NewReviewsHandler(meter UsageMeter, recorder audit.Recorder, logger *zap.Logger) *ReviewsHandler {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &ReviewsHandler{usage: meter, audit: recorder, logger: logger}
}

// HandleInsights handles GET /api/v1/reviews/insights
func (h *ReviewsHandler) HandleInsights(w http.ResponseWriter, r *http.Request) {
	identity, snap, ok := h.tenant(w, r)
	if !ok {
		return
	}

	report, err := h.usage.Report(r.Context(), identity.TenantID, snap.Plan)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, InsightsResponse{
		TenantID:     identity.TenantID,
		Plan:         snap.Plan,
		MaxLocations: snap.Plan.Limits().MaxLocations,
		Usage:        report,
	})
}

// HandleGenerateReply handles POST /api/v1/replies/generate. It checks the
// requested tone against the plan and counts the reply against the monthly
// AI reply quota.
func (h *ReviewsHandler) HandleGenerateReply(w http.ResponseWriter, r *http.Request) {
	identity, snap, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req GenerateReplyRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	tone := req.Tone
	if tone == "" {
		tone = DefaultReplyTone
	}
	if tone != DefaultReplyTone && !snap.Plan.Includes(models.FeatureCustomTone) {
		HandleServiceError(w, services.ErrInsufficientEntitlement.
			WithDetail("capability", string(access.CapabilityCustomTone)), h.logger)
		return
	}

	allowance, err := h.usage.Consume(r.Context(), identity.TenantID, snap.Plan, models.UsageAIReply)
	if allowance != nil {
		setUsageHeaders(w, allowance)
	}
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if rerr := h.audit.Record(audit.ReplyAuthorized(identity, req.ReviewID, tone, allowance.Used, allowance.Limit, requestMeta(r))); rerr != nil {
		h.logger.Warn("audit entry dropped",
			zap.String("action", string(models.AuditActionReplyAuthorized)),
			zap.Error(rerr))
	}

	h.logger.Info("ai reply authorized",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("tenant_id", identity.TenantID),
		zap.String("review_id", req.ReviewID),
		zap.String("tone", tone),
		zap.Int("used", allowance.Used),
		zap.Int("limit", allowance.Limit))

	_ = utils.WriteOK(w, ReplyAuthorization{
		ReviewID: req.ReviewID,
		Tone:     tone,
		Plan:     snap.Plan,
		Usage:    *allowance,
	})
}

func setUsageHeaders(w http.ResponseWriter, a *usage.Allowance) {
	w.Header().Set(HeaderUsageLimit, strconv.Itoa(a.Limit))
	w.Header().Set(HeaderUsageRemaining, strconv.Itoa(a.Remaining))
	if a.NearLimit() {
		w.Header().Set(HeaderUsageWarning, "approaching monthly "+string(a.Type)+" limit")
	}
}

func (h *ReviewsHandler) tenant(w http.ResponseWriter, r *http.Request) (models.Identity, *models.SubscriptionSnapshot, bool) {
	ctx := r.Context()
	identity, ok := middleware.GetIdentityFromContext(ctx)
	snap := middleware.GetSubscriptionFromContext(ctx)
	if !ok || snap == nil {
		h.logger.Error("review handler reached without an access decision",
			zap.String("request_id", middleware.GetRequestIDFromContext(ctx)))
		_ = utils.WriteInternalServerError(w, "")
		return models.Identity{}, nil, false
	}
	return identity, snap, true
}
