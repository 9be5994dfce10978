package handlers

import (
	"net/http"

	"github.com/revai/concierge/middleware"
	"github.com/revai/concierge/services"
	"github.com/revai/concierge/services/audit"
	"github.com/revai/concierge/services/entitlement"
	"github.com/revai/concierge/utils"
	"go.uber.org/zap"
)

// CacheAdmin exposes the entitlement cache to operators
type CacheAdmin interface {
	Stats() entitlement.Stats
	Invalidate(tenantID string) bool
}

// AuditStatser reports audit writer health
type AuditStatser interface {
	Stats() audit.Stats
}

// AdminStatsResponse is the operator view of the resolver and audit writer
type AdminStatsResponse struct {
	Entitlement entitlement.Stats `json:"entitlement"`
	Audit       *audit.Stats      `json:"audit,omitempty"`
}

// AdminHandler handles operator endpoints
type AdminHandler struct {
	cache  CacheAdmin
	audit  AuditStatser
	logger *zap.Logger
}

// NewAdminHandler creates a new AdminHandler. auditStats may be nil.
func NewAdminHandler(cache CacheAdmin, auditStats AuditStatser, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		cache:  cache,
		audit:  auditStats,
		logger: logger,
	}
}

// HandleCacheStats handles GET /api/v1/admin/cache
func (h *AdminHandler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	resp := AdminStatsResponse{Entitlement: h.cache.Stats()}
	if h.audit != nil {
		stats := h.audit.Stats()
		resp.Audit = &stats
	}
	_ = utils.WriteOK(w, resp)
}

// HandleInvalidateCache handles DELETE /api/v1/admin/cache.
// It drops the caller's own tenant entry so the next request refetches.
func (h *AdminHandler) HandleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := middleware.GetIdentityFromContext(ctx)
	if !ok {
		_ = utils.WriteUnauthorized(w, string(services.ReasonMissingToken), "")
		return
	}

	invalidated := h.cache.Invalidate(identity.TenantID)
	h.logger.Info("entitlement cache invalidated by admin",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("tenant_id", identity.TenantID),
		zap.String("user_id", identity.UserID),
		zap.Bool("cached", invalidated))

	_ = utils.WriteOK(w, map[string]interface{}{
		"tenant_id":   identity.TenantID,
		"invalidated": invalidated,
	})
}
