package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/revai/concierge/middleware"
	"github.com/revai/concierge/services"
	"github.com/revai/concierge/services/billing"
	"github.com/revai/concierge/utils"
	"go.uber.org/zap"
)

// MaxWebhookBodyBytes is the largest Stripe event body accepted
const MaxWebhookBodyBytes = 65536

// WebhookProcessor verifies and applies a billing event
type WebhookProcessor interface {
	Handle(ctx context.Context, payload []byte, signature string) (*billing.WebhookResult, error)
}

// WebhookHandler receives Stripe webhooks
type WebhookHandler struct {
	processor WebhookProcessor
	logger    *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(processor WebhookProcessor, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		logger:    logger,
	}
}

// HandleStripe handles POST /webhooks/stripe.
// Anything but a 2xx makes Stripe redeliver the event.
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = utils.WriteJSON(w, http.StatusRequestEntityTooLarge, utils.ErrorResponse{
				Error:   "payload_too_large",
				Message: "Webhook payload too large",
			})
			return
		}
		_ = utils.WriteBadRequest(w, "Failed to read request body", nil)
		return
	}

	result, err := h.processor.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if services.IsValidationError(err) {
			h.logger.Warn("rejected stripe webhook",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteBadRequest(w, "Invalid webhook", nil)
			return
		}
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("stripe webhook processed",
		zap.String("request_id", requestID),
		zap.String("event_id", result.EventID),
		zap.String("event_type", result.EventType),
		zap.String("tenant_id", result.TenantID),
		zap.Bool("handled", result.Handled),
		zap.Bool("applied", result.Applied))

	_ = utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"received": true,
		"handled":  result.Handled,
	})
}
