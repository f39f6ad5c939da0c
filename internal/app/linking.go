/**
 * @description
 * The linking pipeline: exchanges a one-time Plaid Link public token for a
 * long-lived credential, upserts the Connection and its BankAccounts, assigns
 * the default primary, and bridges accounts to Stripe.
 *
 * Every step is retry-safe. Upserts key on Plaid's globally unique item and
 * account ids, so a client retry of the same link converges on the existing
 * rows instead of duplicating them.
 *
 * @notes
 * - Stripe integration is best-effort throughout: a failed customer creation
 *   or token mint degrades to "linked, not yet processor-bridged" and is
 *   retried lazily by the background job. Only Plaid failures abort the link.
 */
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/transfa/bank-link-service/internal/domain"
)

// LinkBankAccounts runs the full linking pipeline for a verified caller and
// returns sanitized views of every account under the linked institution.
// A provider returning zero accounts is a successful link with an empty
// result.
func (s *LinkService) LinkBankAccounts(ctx context.Context, clerkUserID, publicToken string) ([]domain.BankAccountView, error) {
	user, err := s.resolveUser(ctx, clerkUserID)
	if err != nil {
		return nil, err
	}

	// 1. Exchange the one-time public token. An expired or already-used
	// token is a provider rejection surfaced to the caller, never retried
	// here.
	exchange, err := s.plaid.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return nil, err
	}

	// 2. Institution metadata and the account list for the item.
	institutionID, institutionName := s.lookupInstitution(ctx, exchange.AccessToken)
	accountsResp, err := s.plaid.GetAccounts(ctx, exchange.AccessToken)
	if err != nil {
		return nil, err
	}

	// 3. Stripe customer, best-effort. Linking proceeds without it.
	s.ensureStripeCustomer(ctx, user)

	// 4. Upsert the Connection keyed on the item id. Relinking the same
	// institution updates the row in place and revives an INACTIVE link.
	encrypted, err := s.vault.Encrypt(exchange.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	conn, err := s.connRepo.UpsertByItemID(ctx, &domain.Connection{
		UserID:               user.ID,
		PlaidItemID:          exchange.ItemID,
		EncryptedAccessToken: encrypted,
		InstitutionID:        institutionID,
		InstitutionName:      institutionName,
	})
	if err != nil {
		return nil, err
	}

	// 5. Upsert each account. The first account of the batch defaults to
	// primary only when the user has no ACTIVE accounts at all; this is the
	// only place primary is ever defaulted to true.
	activeCount, err := s.accountRepo.CountActiveByUserID(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	upserted := make([]domain.BankAccount, 0, len(accountsResp.Accounts))
	for i, pa := range accountsResp.Accounts {
		defaultPrimary := activeCount == 0 && i == 0
		account, err := s.accountRepo.UpsertByPlaidAccountID(ctx, &domain.BankAccount{
			UserID:         user.ID,
			ConnectionID:   conn.ID,
			PlaidAccountID: pa.AccountID,
			Name:           pa.Name,
			Type:           pa.Subtype,
			Mask:           domain.MaskAccountNumber(pa.Mask),
		}, defaultPrimary)
		if err != nil {
			return nil, err
		}
		upserted = append(upserted, *account)
	}

	// 6. Bridge each account to Stripe. Individual failures are logged and
	// skipped; partial processor linkage is acceptable and recoverable.
	if user.HasStripeCustomer() {
		for i := range upserted {
			s.bridgeAccountToStripe(ctx, user, exchange.AccessToken, &upserted[i])
		}
	}

	s.publishEvent(ctx, "bank.account.linked", domain.AccountLinkedEvent{
		UserID:          user.ID.String(),
		ConnectionID:    conn.ID.String(),
		InstitutionName: conn.InstitutionName,
		AccountCount:    len(upserted),
	})

	views := make([]domain.BankAccountView, 0, len(upserted))
	for i := range upserted {
		view, err := domain.NewBankAccountView(&upserted[i], conn)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// lookupInstitution resolves the institution id and display name behind an
// access token. Display metadata is not worth failing a link over: on any
// provider error the institution id stands in for the name.
func (s *LinkService) lookupInstitution(ctx context.Context, accessToken string) (string, string) {
	item, err := s.plaid.GetItem(ctx, accessToken)
	if err != nil {
		log.Printf("Warning: failed to fetch item metadata: %v", err)
		return "", "Unknown Institution"
	}
	institutionID := item.Item.InstitutionID

	inst, err := s.plaid.GetInstitution(ctx, institutionID)
	if err != nil {
		log.Printf("Warning: failed to fetch institution %s: %v", institutionID, err)
		return institutionID, institutionID
	}
	return institutionID, inst.Institution.Name
}

// ensureStripeCustomer get-or-creates the user's Stripe customer.
// Failure is non-fatal: the link proceeds without processor linkage.
func (s *LinkService) ensureStripeCustomer(ctx context.Context, user *domain.User) {
	if user.HasStripeCustomer() {
		return
	}
	email := ""
	if user.Email != nil {
		email = *user.Email
	}
	customer, err := s.stripe.CreateCustomer(ctx, email)
	if err != nil {
		log.Printf("Warning: failed to create stripe customer for user %s: %v", user.ID, err)
		return
	}
	if customer == nil || customer.ID == "" {
		log.Printf("Warning: stripe returned no customer for user %s", user.ID)
		return
	}
	if err := s.userRepo.SetStripeCustomerID(ctx, user.ID, customer.ID); err != nil {
		log.Printf("Warning: failed to persist stripe customer id for user %s: %v", user.ID, err)
		return
	}
	user.StripeCustomerID = &customer.ID
}

// bridgeAccountToStripe mints a processor token for one account and attaches
// it as a bank source on the user's Stripe customer. Failures are logged and
// skipped without aborting the batch.
func (s *LinkService) bridgeAccountToStripe(ctx context.Context, user *domain.User, accessToken string, account *domain.BankAccount) {
	if account.HasProcessorToken() {
		return
	}
	minted, err := s.plaid.CreateStripeProcessorToken(ctx, accessToken, account.PlaidAccountID)
	if err != nil {
		log.Printf("Warning: failed to mint processor token for account %s: %v", account.ID, err)
		return
	}
	sourceID := s.attachStripeSource(ctx, user, minted.StripeBankAccountToken)
	if err := s.accountRepo.AttachProcessorToken(ctx, account.ID, minted.StripeBankAccountToken, sourceID); err != nil {
		log.Printf("Warning: failed to persist processor token for account %s: %v", account.ID, err)
		return
	}
	account.StripeProcessorToken = &minted.StripeBankAccountToken
	account.StripeBankAccountID = sourceID
}

// publishEvent publishes an internal event, best-effort.
func (s *LinkService) publishEvent(ctx context.Context, routingKey string, payload interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, EventsExchange, routingKey, payload); err != nil {
		log.Printf("Warning: failed to publish %s event: %v", routingKey, err)
	}
}
