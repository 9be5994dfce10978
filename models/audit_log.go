package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionLoginSucceeded      AuditAction = "login_succeeded"
	AuditActionLoginFailed         AuditAction = "login_failed"
	AuditActionLogout              AuditAction = "logout"
	AuditActionSubscriptionUpdated AuditAction = "subscription_updated"
	AuditActionSubscriptionDeleted AuditAction = "subscription_deleted"
	AuditActionEntitlementInvalid  AuditAction = "entitlement_invalidated"
	AuditActionReplyAuthorized     AuditAction = "ai_reply_authorized"
)

// AuditLog represents an audit trail entry
type AuditLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	TenantID     *uuid.UUID      `json:"tenant_id,omitempty" db:"tenant_id"`
	UserID       *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	Action       AuditAction     `json:"action" db:"action"`
	ResourceType string          `json:"resource_type" db:"resource_type"` // session, subscription, review
	ResourceID   string          `json:"resource_id,omitempty" db:"resource_id"`
	Details      json.RawMessage `json:"details" db:"details"`
	IPAddress    string          `json:"ip_address" db:"ip_address"`
	UserAgent    string          `json:"user_agent" db:"user_agent"`
	RequestID    string          `json:"request_id" db:"request_id"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(action AuditAction, resourceType string) *AuditLog {
	return &AuditLog{
		ID:           uuid.New(),
		Action:       action,
		ResourceType: resourceType,
		Timestamp:    time.Now(),
	}
}

// WithTenant sets the tenant ID. Non-UUID tenant identifiers are ignored.
func (a *AuditLog) WithTenant(tenantID string) *AuditLog {
	if id, err := uuid.Parse(tenantID); err == nil {
		a.TenantID = &id
	}
	return a
}

// WithUser sets the user ID. Non-UUID user identifiers are ignored.
func (a *AuditLog) WithUser(userID string) *AuditLog {
	if id, err := uuid.Parse(userID); err == nil {
		a.UserID = &id
	}
	return a
}

// WithResource sets the resource ID
func (a *AuditLog) WithResource(resourceID string) *AuditLog {
	a.ResourceID = resourceID
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, ipAddress, userAgent string) *AuditLog {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}
