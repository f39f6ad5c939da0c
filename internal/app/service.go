/**
 * @description
 * This file contains the core business logic for the bank-link-service,
 * implemented as a `LinkService`. It orchestrates operations by coordinating
 * the database repositories, the credential vault, and the external API
 * clients (Plaid, Stripe).
 *
 * The linking pipeline itself lives in linking.go; this file carries the
 * service type, its collaborator interfaces, and the account lifecycle
 * operations (list, get, soft-delete, set-primary, repair-primary,
 * processor-token).
 *
 * @notes
 * - This service layer keeps the API handlers thin and focused on HTTP
 *   concerns, while the business logic remains independent.
 * - Callers are identified by their verified Clerk subject id; the user row
 *   is get-or-created on every entry point, so first authenticated contact
 *   creates the user.
 */
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/transfa/bank-link-service/internal/domain"
	"github.com/transfa/bank-link-service/internal/store"
	"github.com/transfa/bank-link-service/pkg/stripeclient"
)

// PlaidClient defines the aggregation-provider operations the service needs.
type PlaidClient interface {
	ExchangePublicToken(ctx context.Context, publicToken string) (*domain.ExchangePublicTokenResponse, error)
	GetItem(ctx context.Context, accessToken string) (*domain.GetItemResponse, error)
	GetInstitution(ctx context.Context, institutionID string) (*domain.GetInstitutionResponse, error)
	GetAccounts(ctx context.Context, accessToken string) (*domain.GetAccountsResponse, error)
	CreateStripeProcessorToken(ctx context.Context, accessToken, accountID string) (*domain.CreateProcessorTokenResponse, error)
}

// StripeClient defines the payment-processor operations the service needs.
type StripeClient interface {
	CreateCustomer(ctx context.Context, email string) (*stripeclient.Customer, error)
	CreateBankAccountSource(ctx context.Context, customerID, processorToken string) (*stripeclient.BankAccountSource, error)
}

// CredentialVault encrypts and decrypts provider credentials at rest.
type CredentialVault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// EventPublisher publishes internal events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload interface{}) error
}

// EventsExchange is the topic exchange internal events are published to.
const EventsExchange = "bank_link_events"

// LinkService provides methods for linking bank accounts and managing their
// lifecycle.
type LinkService struct {
	userRepo    store.UserRepository
	connRepo    store.ConnectionRepository
	accountRepo store.AccountRepository
	plaid       PlaidClient
	stripe      StripeClient
	vault       CredentialVault
	publisher   EventPublisher
}

// NewLinkService creates a new instance of LinkService. The publisher may be
// nil when the broker is not configured; event publishing is best-effort.
func NewLinkService(
	userRepo store.UserRepository,
	connRepo store.ConnectionRepository,
	accountRepo store.AccountRepository,
	plaid PlaidClient,
	stripe StripeClient,
	vault CredentialVault,
	publisher EventPublisher,
) *LinkService {
	return &LinkService{
		userRepo:    userRepo,
		connRepo:    connRepo,
		accountRepo: accountRepo,
		plaid:       plaid,
		stripe:      stripe,
		vault:       vault,
		publisher:   publisher,
	}
}

func (s *LinkService) resolveUser(ctx context.Context, clerkUserID string) (*domain.User, error) {
	user, err := s.userRepo.GetOrCreateByClerkID(ctx, clerkUserID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	return user, nil
}

// ListAccounts returns the caller's accounts, optionally filtered, sorted
// primary-first then by creation order.
func (s *LinkService) ListAccounts(ctx context.Context, clerkUserID string, filter store.AccountFilter) ([]domain.BankAccountView, error) {
	user, err := s.resolveUser(ctx, clerkUserID)
	if err != nil {
		return nil, err
	}

	accounts, err := s.accountRepo.ListByUserID(ctx, user.ID, filter)
	if err != nil {
		return nil, err
	}

	connections, err := s.connRepo.ListByUserID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	connByID := make(map[uuid.UUID]*domain.Connection, len(connections))
	for i := range connections {
		connByID[connections[i].ID] = &connections[i]
	}

	views := make([]domain.BankAccountView, 0, len(accounts))
	for i := range accounts {
		view, err := domain.NewBankAccountView(&accounts[i], connByID[accounts[i].ConnectionID])
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// GetAccount returns one account owned by the caller. The ownership check is
// explicit rather than folded into the query filter, so a foreign account id
// yields Forbidden instead of leaking existence through NotFound timing.
func (s *LinkService) GetAccount(ctx context.Context, clerkUserID string, accountID uuid.UUID) (*domain.BankAccountView, error) {
	user, err := s.resolveUser(ctx, clerkUserID)
	if err != nil {
		return nil, err
	}

	account, conn, err := s.accountRepo.FindWithConnection(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.UserID != user.ID {
		return nil, fmt.Errorf("bank account %s: %w", accountID, domain.ErrForbidden)
	}

	view, err := domain.NewBankAccountView(account, conn)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// RemoveAccount soft-deletes an account. If the removed account was the
// primary, the best remaining ACTIVE account is promoted in the same
// transaction.
func (s *LinkService) RemoveAccount(ctx context.Context, clerkUserID string, accountID uuid.UUID) error {
	user, err := s.resolveUser(ctx, clerkUserID)
	if err != nil {
		return err
	}

	promoted, err := s.accountRepo.DeactivateAccount(ctx, user.ID, accountID)
	if err != nil {
		return err
	}
	if promoted != nil {
		log.Printf("Primary reassigned to account %s after removal of %s", promoted, accountID)
	}
	return nil
}

// SetPrimaryAccount makes the target account the caller's primary. Fails
// with a validation error when the target is not ACTIVE.
func (s *LinkService) SetPrimaryAccount(ctx context.Context, clerkUserID string, accountID uuid.UUID) error {
	user, err := s.resolveUser(ctx, clerkUserID)
	if err != nil {
		return err
	}
	return s.accountRepo.SetPrimaryAccount(ctx, user.ID, accountID)
}

// RepairPrimary restores the single-primary invariant for the caller: if no
// ACTIVE account is primary, the best-ranked candidate is promoted. A user
// with no ACTIVE accounts is a valid empty state and a no-op.
func (s *LinkService) RepairPrimary(ctx context.Context, clerkUserID string) (*uuid.UUID, error) {
	user, err := s.resolveUser(ctx, clerkUserID)
	if err != nil {
		return nil, err
	}

	active := domain.AccountActive
	accounts, err := s.accountRepo.ListByUserID(ctx, user.ID, store.AccountFilter{Status: &active})
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		if a.IsPrimary {
			return nil, nil // invariant already holds
		}
	}

	candidate := domain.NextPrimary(accounts)
	if candidate == nil {
		return nil, nil
	}
	if err := s.accountRepo.SetPrimaryAccount(ctx, user.ID, candidate.ID); err != nil {
		return nil, err
	}
	return &candidate.ID, nil
}

// CreateProcessorToken returns a processor token for an account, minting one
// through Plaid when no cached token exists. Cached tokens are reused without
// a new mint call, stamping their last-used time.
func (s *LinkService) CreateProcessorToken(ctx context.Context, clerkUserID string, accountID uuid.UUID) (string, error) {
	user, err := s.resolveUser(ctx, clerkUserID)
	if err != nil {
		return "", err
	}

	account, conn, err := s.accountRepo.FindWithConnection(ctx, accountID)
	if err != nil {
		return "", err
	}
	if account.UserID != user.ID {
		return "", fmt.Errorf("bank account %s: %w", accountID, domain.ErrForbidden)
	}

	if account.HasProcessorToken() {
		if err := s.accountRepo.TouchProcessorToken(ctx, accountID); err != nil {
			log.Printf("Warning: failed to stamp token last-used for account %s: %v", accountID, err)
		}
		return *account.StripeProcessorToken, nil
	}

	if account.Status != domain.AccountActive {
		return "", fmt.Errorf("cannot mint processor token for %s account: %w", account.Status, domain.ErrValidation)
	}

	accessToken, err := s.vault.Decrypt(conn.EncryptedAccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt connection credential: %w", err)
	}

	minted, err := s.plaid.CreateStripeProcessorToken(ctx, accessToken, account.PlaidAccountID)
	if err != nil {
		return "", err
	}

	sourceID := s.attachStripeSource(ctx, user, minted.StripeBankAccountToken)
	if err := s.accountRepo.AttachProcessorToken(ctx, accountID, minted.StripeBankAccountToken, sourceID); err != nil {
		return "", err
	}
	return minted.StripeBankAccountToken, nil
}

// attachStripeSource attaches a processor token to the user's Stripe customer
// as a bank account source. Best-effort: a missing customer or a Stripe
// failure leaves the account usable with its processor token alone.
func (s *LinkService) attachStripeSource(ctx context.Context, user *domain.User, processorToken string) *string {
	if !user.HasStripeCustomer() {
		return nil
	}
	source, err := s.stripe.CreateBankAccountSource(ctx, *user.StripeCustomerID, processorToken)
	if err != nil {
		log.Printf("Warning: failed to attach bank source for user %s: %v", user.ID, err)
		return nil
	}
	if source == nil || source.ID == "" {
		log.Printf("Warning: stripe returned no bank source for user %s", user.ID)
		return nil
	}
	return &source.ID
}
