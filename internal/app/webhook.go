/**
 * @description
 * WebhookProcessor applies Plaid item webhook events to Connections. It is
 * deliberately separate from the HTTP handler so the state-transition logic
 * can be exercised without an HTTP server.
 *
 * Idempotency: the transition applied is a pure function of (current
 * persisted status, webhook code) computed in the domain package, so
 * redelivering the same event persists the same final state, and Plaid's
 * lack of ordering guarantees is safe.
 */
package app

import (
	"context"
	"errors"
	"log"

	"github.com/transfa/bank-link-service/internal/domain"
	"github.com/transfa/bank-link-service/internal/store"
)

// WebhookProcessor mutates Connection state from inbound provider events.
type WebhookProcessor struct {
	connRepo  store.ConnectionRepository
	publisher EventPublisher
}

// NewWebhookProcessor creates a new WebhookProcessor. The publisher may be
// nil; status-change events are then skipped.
func NewWebhookProcessor(connRepo store.ConnectionRepository, publisher EventPublisher) *WebhookProcessor {
	return &WebhookProcessor{connRepo: connRepo, publisher: publisher}
}

// Process applies one webhook event. Every outcome short of an internal
// datastore failure is a successful no-op from the provider's point of view:
// unknown items and unknown codes are logged and ignored so that redelivery
// is never provoked for events that cannot be acted on.
func (p *WebhookProcessor) Process(ctx context.Context, event domain.PlaidWebhookEvent) error {
	if event.ItemID == "" {
		log.Printf("Webhook event %s/%s carries no item id, ignoring", event.WebhookType, event.WebhookCode)
		return nil
	}

	conn, err := p.connRepo.FindByItemID(ctx, event.ItemID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The item may belong to another environment, or raced the
			// linking batch that creates it. Not an error.
			log.Printf("Webhook for unknown item %s, ignoring", event.ItemID)
			return nil
		}
		return err
	}

	transition, known := domain.ApplyWebhook(conn.Status, conn.LastError, event.WebhookCode, event.ErrorMessage())
	if !known {
		log.Printf("Unhandled webhook code %s for item %s, ignoring", event.WebhookCode, event.ItemID)
		return nil
	}

	if err := p.connRepo.ApplyTransition(ctx, conn.ID, transition); err != nil {
		return err
	}

	if transition.Status != conn.Status {
		p.publishStatusChange(ctx, conn, transition)
	}

	log.Printf("Webhook %s applied to connection %s: %s -> %s",
		event.WebhookCode, conn.ID, conn.Status, transition.Status)
	return nil
}

func (p *WebhookProcessor) publishStatusChange(ctx context.Context, conn *domain.Connection, t domain.Transition) {
	if p.publisher == nil {
		return
	}
	event := domain.ConnectionStatusChangedEvent{
		UserID:       conn.UserID.String(),
		ConnectionID: conn.ID.String(),
		PlaidItemID:  conn.PlaidItemID,
		OldStatus:    string(conn.Status),
		NewStatus:    string(t.Status),
		Reason:       t.ErrorMessage,
	}
	if err := p.publisher.Publish(ctx, EventsExchange, "bank.connection.status_changed", event); err != nil {
		log.Printf("Warning: failed to publish status change for connection %s: %v", conn.ID, err)
	}
}
