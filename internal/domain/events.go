/**
 * @description
 * Internal event payloads published to RabbitMQ so downstream services
 * (notifications, analytics) can react to linking activity without coupling
 * to this service's database.
 */
package domain

// AccountLinkedEvent is published after a successful link call.
type AccountLinkedEvent struct {
	UserID          string `json:"user_id"`
	ConnectionID    string `json:"connection_id"`
	InstitutionName string `json:"institution_name"`
	AccountCount    int    `json:"account_count"`
}

// ConnectionStatusChangedEvent is published when a webhook changes a
// Connection's status.
type ConnectionStatusChangedEvent struct {
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
	PlaidItemID  string `json:"plaid_item_id"`
	OldStatus    string `json:"old_status"`
	NewStatus    string `json:"new_status"`
	Reason       *string `json:"reason,omitempty"`
}
