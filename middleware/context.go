package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/revai/concierge/models"
	"github.com/revai/concierge/services/access"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// DecisionKey is the context key for the access decision of the request
	DecisionKey contextKey = "access_decision"
)

// GetRequestIDFromContext retrieves the request ID from context, falling back to chi's request ID
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return chimw.GetReqID(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithDecision adds an allowed access decision to the context
func WithDecision(ctx context.Context, d *access.Decision) context.Context {
	return context.WithValue(ctx, DecisionKey, d)
}

// GetDecisionFromContext retrieves the access decision from context
func GetDecisionFromContext(ctx context.Context) *access.Decision {
	if val := ctx.Value(DecisionKey); val != nil {
		if d, ok := val.(*access.Decision); ok {
			return d
		}
	}
	return nil
}

// GetIdentityFromContext retrieves the caller identity from context
func GetIdentityFromContext(ctx context.Context) (models.Identity, bool) {
	d := GetDecisionFromContext(ctx)
	if d == nil || d.Context == nil {
		return models.Identity{}, false
	}
	return d.Context.Identity, true
}

// GetSessionFromContext retrieves the verified session from context
func GetSessionFromContext(ctx context.Context) *models.Session {
	d := GetDecisionFromContext(ctx)
	if d == nil || d.Context == nil {
		return nil
	}
	return d.Context.Session
}

// GetSubscriptionFromContext retrieves the resolved subscription snapshot from context.
// It is nil when the billing provider was unavailable for a session-only capability.
func GetSubscriptionFromContext(ctx context.Context) *models.SubscriptionSnapshot {
	d := GetDecisionFromContext(ctx)
	if d == nil || d.Context == nil {
		return nil
	}
	return d.Context.Subscription
}
