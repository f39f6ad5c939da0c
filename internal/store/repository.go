/**
 * @description
 * This file defines the interfaces for the data access layer (repositories).
 * Defining interfaces allows for dependency injection and easy mocking in
 * tests, promoting a loosely coupled architecture.
 *
 * @notes
 * - Invariant-sensitive multi-row mutations (SetPrimaryAccount,
 *   DeactivateAccount) are single repository methods so their implementations
 *   can run them inside one database transaction. No caller ever composes
 *   them out of smaller writes.
 */
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/transfa/bank-link-service/internal/domain"
)

// AccountFilter narrows a bank account listing.
type AccountFilter struct {
	Status    *domain.AccountStatus
	IsPrimary *bool
}

// UserRepository defines the contract for database operations on users.
type UserRepository interface {
	// GetOrCreateByClerkID returns the user for a verified Clerk subject id,
	// creating the row on first contact. Idempotent under concurrent calls.
	GetOrCreateByClerkID(ctx context.Context, clerkUserID string, email *string) (*domain.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	SetStripeCustomerID(ctx context.Context, userID uuid.UUID, stripeCustomerID string) error
}

// ConnectionRepository defines the contract for database operations on
// Connections.
type ConnectionRepository interface {
	// UpsertByItemID creates or relinks a Connection keyed on the immutable
	// Plaid item id. Relinking resets status to ACTIVE, clears the error
	// message, and replaces the credential; it never touches last_webhook_at.
	UpsertByItemID(ctx context.Context, conn *domain.Connection) (*domain.Connection, error)
	FindByItemID(ctx context.Context, plaidItemID string) (*domain.Connection, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Connection, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Connection, error)
	// ApplyTransition persists a webhook transition and stamps
	// last_webhook_at. This is the only write path for that column.
	ApplyTransition(ctx context.Context, connectionID uuid.UUID, t domain.Transition) error
}

// AccountRepository defines the contract for database operations on
// BankAccounts.
type AccountRepository interface {
	// UpsertByPlaidAccountID creates or reactivates an account keyed on the
	// immutable Plaid account id. Cached display fields are refreshed and
	// status is reset to ACTIVE; is_primary is preserved on existing rows.
	// defaultPrimary only applies to newly created rows; if the partial
	// unique primary index rejects it, the insert is retried non-primary.
	UpsertByPlaidAccountID(ctx context.Context, account *domain.BankAccount, defaultPrimary bool) (*domain.BankAccount, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.BankAccount, error)
	// FindWithConnection loads an account together with its parent
	// Connection, which view construction requires.
	FindWithConnection(ctx context.Context, id uuid.UUID) (*domain.BankAccount, *domain.Connection, error)
	ListByUserID(ctx context.Context, userID uuid.UUID, filter AccountFilter) ([]domain.BankAccount, error)
	CountActiveByUserID(ctx context.Context, userID uuid.UUID) (int, error)
	// SetPrimaryAccount atomically makes accountID the user's only primary
	// ACTIVE account. Returns domain.ErrValidation when the target is not
	// ACTIVE, domain.ErrForbidden on ownership mismatch.
	SetPrimaryAccount(ctx context.Context, userID, accountID uuid.UUID) error
	// DeactivateAccount atomically soft-deletes an account and, if it was
	// the primary, promotes the best remaining ACTIVE account. Returns the
	// promoted account id, or nil when none remains.
	DeactivateAccount(ctx context.Context, userID, accountID uuid.UUID) (*uuid.UUID, error)
	AttachProcessorToken(ctx context.Context, accountID uuid.UUID, processorToken string, stripeBankAccountID *string) error
	// TouchProcessorToken stamps token_last_used_at for a cached token reuse.
	TouchProcessorToken(ctx context.Context, accountID uuid.UUID) error
	// ListActiveMissingProcessorToken feeds the lazy processor-retry job.
	ListActiveMissingProcessorToken(ctx context.Context, limit int) ([]domain.BankAccount, error)
}
