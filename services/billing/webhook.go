package billing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/revai/concierge/models"
	"github.com/revai/concierge/repositories"
	"github.com/revai/concierge/services"
	"github.com/revai/concierge/services/audit"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

// Stripe event types the processor acts on
const (
	EventSubscriptionCreated  = "customer.subscription.created"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

// SnapshotSink receives subscription state pushed by webhooks
type SnapshotSink interface {
	Apply(snap *models.SubscriptionSnapshot) (bool, error)
	Invalidate(tenantID string) bool
}

// WebhookResult describes what the processor did with an event
type WebhookResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	TenantID  string `json:"tenant_id,omitempty"`
	Handled   bool   `json:"handled"`
	Applied   bool   `json:"applied"`
	// Superseded is set when newer state for the tenant was already stored
	Superseded bool `json:"superseded,omitempty"`
}

// WebhookProcessor verifies Stripe webhooks and applies them to the local
// subscription mirror and the entitlement cache
type WebhookProcessor struct {
	secret        string
	prices        PriceTable
	txManager     repositories.TransactionManager
	tenants       repositories.TenantRepository
	subscriptions repositories.SubscriptionRepository
	sink          SnapshotSink
	audit         audit.Recorder
	logger        *zap.Logger
	now           func() time.Time
}

// WebhookConfig holds the processor's collaborators
type WebhookConfig struct {
	Secret        string
	Prices        PriceTable
	TxManager     repositories.TransactionManager
	Tenants       repositories.TenantRepository
	Subscriptions repositories.SubscriptionRepository
	Sink          SnapshotSink
	Audit         audit.Recorder
}

// NewWebhookProcessor creates a WebhookProcessor
func NewWebhookProcessor(cfg WebhookConfig, logger *zap.Logger) *WebhookProcessor {
	recorder := cfg.Audit
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &WebhookProcessor{
		secret:        cfg.Secret,
		prices:        cfg.Prices,
		txManager:     cfg.TxManager,
		tenants:       cfg.Tenants,
		subscriptions: cfg.Subscriptions,
		sink:          cfg.Sink,
		audit:         recorder,
		logger:        logger,
		now:           time.Now,
	}
}

// Handle verifies the signature and dispatches the event. Events the
// processor does not act on are acknowledged with Handled=false.
//
// Errors: services.ErrInvalidWebhook for a bad signature or payload (do not
// retry), internal errors when persisting failed (Stripe should retry).
func (w *WebhookProcessor) Handle(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if w.secret == "" {
		return nil, services.WrapInternal("webhook secret is not configured", nil)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, w.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, services.ErrInvalidWebhook.Wrap(err)
	}

	result := &WebhookResult{EventID: event.ID, EventType: string(event.Type)}
	if event.Data == nil {
		return nil, services.ErrInvalidWebhook.WithDetail("event_id", event.ID)
	}

	switch event.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		err = w.handleSubscription(ctx, event.ID, w.occurredAt(event.Created), event.Data.Raw, false, result)
	case EventSubscriptionDeleted:
		err = w.handleSubscription(ctx, event.ID, w.occurredAt(event.Created), event.Data.Raw, true, result)
	case EventInvoicePaid, EventInvoicePaymentFailed:
		err = w.handleInvoice(ctx, event.ID, string(event.Type), event.Data.Raw, result)
	default:
		w.logger.Debug("ignoring stripe event", zap.String("event_id", event.ID), zap.String("type", string(event.Type)))
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// occurredAt is the event's creation time. Stripe does not deliver events
// in order, so snapshots are versioned by it rather than by arrival.
func (w *WebhookProcessor) occurredAt(created int64) time.Time {
	if created <= 0 {
		return w.now().UTC()
	}
	return time.Unix(created, 0).UTC()
}

func (w *WebhookProcessor) handleSubscription(ctx context.Context, eventID string, occurredAt time.Time, raw json.RawMessage, deleted bool, result *WebhookResult) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return services.ErrInvalidWebhook.Wrap(err)
	}

	tenant, err := w.resolveTenant(ctx, sub.Metadata[MetadataTenantID], customerID(sub.Customer))
	if err != nil {
		return w.unknownTenant(eventID, err)
	}
	result.TenantID = tenant.ID.String()

	snap, err := SnapshotFromStripe(result.TenantID, &sub, w.prices, occurredAt)
	if err != nil {
		return services.ErrInvalidWebhook.Wrap(err)
	}
	if deleted {
		snap.Status = models.StatusCanceled
	}

	plan := snap.Plan
	if !snap.Entitled() {
		plan = models.PlanFree
	}

	stored := false
	err = w.txManager.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
		var err error
		stored, err = w.subscriptions.WithTx(tx).Upsert(ctx, snap)
		if err != nil || !stored {
			return err
		}
		return w.tenants.WithTx(tx).UpdatePlan(ctx, tenant.ID, plan)
	})
	if err != nil {
		return services.WrapInternal("failed to store subscription", err)
	}
	if !stored {
		result.Handled = true
		result.Superseded = true
		w.logger.Info("ignoring superseded subscription webhook",
			zap.String("event_id", eventID),
			zap.String("tenant_id", result.TenantID),
			zap.Time("occurred_at", occurredAt))
		return nil
	}

	applied, err := w.sink.Apply(snap)
	if err != nil {
		return err
	}
	if !applied {
		// The cache holds a fetch that may predate this delivery; refetch.
		w.sink.Invalidate(result.TenantID)
	}
	result.Handled = true
	result.Applied = applied

	if err := w.audit.Record(audit.SubscriptionChanged(snap, eventID, deleted)); err != nil {
		w.logger.Warn("failed to record audit event", zap.Error(err))
	}
	w.logger.Info("applied subscription webhook",
		zap.String("event_id", eventID),
		zap.String("tenant_id", result.TenantID),
		zap.String("status", string(snap.Status)),
		zap.String("plan", string(plan)))
	return nil
}

func (w *WebhookProcessor) handleInvoice(ctx context.Context, eventID, eventType string, raw json.RawMessage, result *WebhookResult) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return services.ErrInvalidWebhook.Wrap(err)
	}

	tenant, err := w.resolveTenant(ctx, inv.Metadata[MetadataTenantID], customerID(inv.Customer))
	if err != nil {
		return w.unknownTenant(eventID, err)
	}
	result.TenantID = tenant.ID.String()

	w.sink.Invalidate(result.TenantID)
	result.Handled = true

	if err := w.audit.Record(audit.EntitlementInvalidated(result.TenantID, eventID, eventType)); err != nil {
		w.logger.Warn("failed to record audit event", zap.Error(err))
	}
	return nil
}

// resolveTenant prefers the tenant_id metadata and falls back to the
// tenant owning the Stripe customer
func (w *WebhookProcessor) resolveTenant(ctx context.Context, metadataTenantID, stripeCustomerID string) (*models.Tenant, error) {
	if id, err := uuid.Parse(metadataTenantID); err == nil {
		tenant, err := w.tenants.GetByID(ctx, id)
		if err == nil {
			return tenant, nil
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return nil, err
		}
	}
	if stripeCustomerID == "" {
		return nil, services.ErrTenantNotFound
	}
	tenant, err := w.tenants.GetByStripeCustomerID(ctx, stripeCustomerID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrTenantNotFound
		}
		return nil, err
	}
	return tenant, nil
}

// unknownTenant acknowledges events for customers we do not know so Stripe
// stops retrying them. Lookup failures are returned for a retry.
func (w *WebhookProcessor) unknownTenant(eventID string, err error) error {
	if services.IsNotFoundError(err) {
		w.logger.Warn("stripe event for unknown tenant", zap.String("event_id", eventID))
		return nil
	}
	return services.WrapInternal("failed to resolve tenant", err)
}
