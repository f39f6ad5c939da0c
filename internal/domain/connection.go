/**
 * @description
 * Domain model for a bank Connection (one Plaid Item, i.e. one institution
 * login) and the webhook-driven status state machine that governs it.
 *
 * The state machine is a pure function of (current status, webhook code) so
 * that Plaid's unordered, at-least-once webhook delivery is safe: replaying
 * or reordering events always converges to the same persisted state.
 *
 * @notes
 * - A Connection is never hard-deleted. INACTIVE is terminal but revivable:
 *   relinking the same institution upserts the same row, keyed by the
 *   immutable Plaid item id, and resets the status to ACTIVE.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionStatus is the lifecycle state of a Connection.
type ConnectionStatus string

const (
	ConnectionActive        ConnectionStatus = "ACTIVE"
	ConnectionLoginRequired ConnectionStatus = "LOGIN_REQUIRED"
	ConnectionError         ConnectionStatus = "ERROR"
	ConnectionInactive      ConnectionStatus = "INACTIVE"
)

// Plaid item webhook codes handled by the state machine. Codes outside this
// set are logged and ignored for forward compatibility.
const (
	WebhookCodeLoginRequired     = "ITEM_LOGIN_REQUIRED"
	WebhookCodeError             = "ERROR"
	WebhookCodePermissionRevoked = "USER_PERMISSION_REVOKED"
	WebhookCodeDefaultUpdate     = "DEFAULT_UPDATE"
	WebhookCodePendingExpiration = "PENDING_EXPIRATION"
)

// Connection represents one authenticated link to a financial institution.
type Connection struct {
	ID                  uuid.UUID        `json:"id"`
	UserID              uuid.UUID        `json:"user_id"`
	PlaidItemID         string           `json:"plaid_item_id"`
	EncryptedAccessToken string          `json:"-"`
	InstitutionID       string           `json:"institution_id"`
	InstitutionName     string           `json:"institution_name"`
	Status              ConnectionStatus `json:"status"`
	LastError           *string          `json:"last_error,omitempty"`
	LastWebhookAt       *time.Time       `json:"last_webhook_at,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// Transition is the result of applying a webhook event to a Connection.
type Transition struct {
	Status       ConnectionStatus
	ErrorMessage *string
	// Changed reports whether status or message differ from the current
	// state. The last-webhook timestamp is updated regardless.
	Changed bool
}

// ApplyWebhook computes the next Connection state for a webhook code and the
// provider's error message (empty when the payload carries none).
//
// Rules:
//   - ITEM_LOGIN_REQUIRED   -> LOGIN_REQUIRED, message "re-authentication required"
//   - ERROR                 -> ERROR, message from the payload
//   - USER_PERMISSION_REVOKED -> INACTIVE, message "access revoked"
//   - DEFAULT_UPDATE        -> ACTIVE, but only when the current state is
//     already ACTIVE: a generic all-is-well signal must never mask a more
//     specific negative state, and relinking is the only recovery path from
//     INACTIVE.
//   - PENDING_EXPIRATION    -> advisory message only, status untouched.
//
// The second return value is false for unknown codes.
func ApplyWebhook(current ConnectionStatus, currentMessage *string, code, providerMessage string) (Transition, bool) {
	switch code {
	case WebhookCodeLoginRequired:
		msg := "re-authentication required"
		return Transition{Status: ConnectionLoginRequired, ErrorMessage: &msg, Changed: true}, true

	case WebhookCodeError:
		msg := providerMessage
		if msg == "" {
			msg = "provider reported an error"
		}
		return Transition{Status: ConnectionError, ErrorMessage: &msg, Changed: true}, true

	case WebhookCodePermissionRevoked:
		msg := "access revoked"
		return Transition{Status: ConnectionInactive, ErrorMessage: &msg, Changed: true}, true

	case WebhookCodeDefaultUpdate:
		if current != ConnectionActive {
			// No-op on status, message untouched.
			return Transition{Status: current, ErrorMessage: currentMessage, Changed: false}, true
		}
		return Transition{Status: ConnectionActive, ErrorMessage: nil, Changed: currentMessage != nil}, true

	case WebhookCodePendingExpiration:
		msg := providerMessage
		if msg == "" {
			msg = "connection consent is expiring soon"
		}
		return Transition{Status: current, ErrorMessage: &msg, Changed: true}, true
	}

	return Transition{Status: current, ErrorMessage: currentMessage}, false
}
