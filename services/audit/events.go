package audit

import (
	"strconv"

	"github.com/revai/concierge/models"
)

// Request carries the HTTP metadata attached to an entry
type Request struct {
	ID        string
	IPAddress string
	UserAgent string
}

// LoginSucceeded builds the entry for a successful login
func LoginSucceeded(identity models.Identity, sessionID string, req Request) *models.AuditLog {
	return models.NewAuditLog(models.AuditActionLoginSucceeded, "session").
		WithTenant(identity.TenantID).
		WithUser(identity.UserID).
		WithResource(sessionID).
		WithRequest(req.ID, req.IPAddress, req.UserAgent)
}

// LoginFailed builds the entry for a rejected login. The tenant is unknown
// when the email did not match any user.
func LoginFailed(email string, reason string, req Request) *models.AuditLog {
	return models.NewAuditLog(models.AuditActionLoginFailed, "session").
		WithDetails(map[string]string{
			"email":  email,
			"reason": reason,
		}).
		WithRequest(req.ID, req.IPAddress, req.UserAgent)
}

// Logout builds the entry for an explicit logout
func Logout(session *models.Session, req Request) *models.AuditLog {
	return models.NewAuditLog(models.AuditActionLogout, "session").
		WithTenant(session.Identity.TenantID).
		WithUser(session.Identity.UserID).
		WithResource(session.ID).
		WithRequest(req.ID, req.IPAddress, req.UserAgent)
}

// SubscriptionChanged builds the entry for a webhook-delivered subscription state
func SubscriptionChanged(snap *models.SubscriptionSnapshot, eventID string, deleted bool) *models.AuditLog {
	action := models.AuditActionSubscriptionUpdated
	if deleted {
		action = models.AuditActionSubscriptionDeleted
	}
	return models.NewAuditLog(action, "subscription").
		WithTenant(snap.TenantID).
		WithResource(snap.SubscriptionID).
		WithDetails(map[string]string{
			"event_id": eventID,
			"status":   string(snap.Status),
			"plan":     string(snap.Plan),
		})
}

// EntitlementInvalidated builds the entry for an invoice event that forced a refetch
func EntitlementInvalidated(tenantID, eventID, eventType string) *models.AuditLog {
	return models.NewAuditLog(models.AuditActionEntitlementInvalid, "subscription").
		WithTenant(tenantID).
		WithDetails(map[string]string{
			"event_id":   eventID,
			"event_type": eventType,
		})
}

// ReplyAuthorized builds the entry for an AI reply counted against the tenant's quota
func ReplyAuthorized(identity models.Identity, reviewID, tone string, used, limit int, req Request) *models.AuditLog {
	return models.NewAuditLog(models.AuditActionReplyAuthorized, "review").
		WithTenant(identity.TenantID).
		WithUser(identity.UserID).
		WithResource(reviewID).
		WithDetails(map[string]string{
			"tone":  tone,
			"used":  strconv.Itoa(used),
			"limit": strconv.Itoa(limit),
		}).
		WithRequest(req.ID, req.IPAddress, req.UserAgent)
}
