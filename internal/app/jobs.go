/**
 * @description
 * Scheduled job implementations for the bank-link-service. The cron schedule
 * itself is wired in cmd/main.go; this file carries the job logic.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/transfa/bank-link-service/internal/store"
)

const processorRetryBatchSize = 100

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	userRepo    store.UserRepository
	connRepo    store.ConnectionRepository
	accountRepo store.AccountRepository
	plaid       PlaidClient
	stripe      StripeClient
	vault       CredentialVault
	logger      *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(
	userRepo store.UserRepository,
	connRepo store.ConnectionRepository,
	accountRepo store.AccountRepository,
	plaid PlaidClient,
	stripe StripeClient,
	vault CredentialVault,
	logger *slog.Logger,
) *Jobs {
	return &Jobs{
		userRepo:    userRepo,
		connRepo:    connRepo,
		accountRepo: accountRepo,
		plaid:       plaid,
		stripe:      stripe,
		vault:       vault,
		logger:      logger,
	}
}

// RetryProcessorLinks finds ACTIVE accounts that were linked without a
// processor token (Stripe was down, or the per-account mint failed during
// linking) and retries the bridge. Per-account failures are logged and left
// for the next run.
func (j *Jobs) RetryProcessorLinks() {
	j.logger.Info("starting processor link retry job")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	accounts, err := j.accountRepo.ListActiveMissingProcessorToken(ctx, processorRetryBatchSize)
	if err != nil {
		j.logger.Error("failed to list accounts missing processor token", "error", err)
		return
	}
	if len(accounts) == 0 {
		j.logger.Info("processor link retry job finished", "retried", 0)
		return
	}

	retried := 0
	for i := range accounts {
		account := &accounts[i]

		conn, err := j.connRepo.FindByID(ctx, account.ConnectionID)
		if err != nil {
			j.logger.Error("failed to load parent connection", "account_id", account.ID, "error", err)
			continue
		}
		accessToken, err := j.vault.Decrypt(conn.EncryptedAccessToken)
		if err != nil {
			j.logger.Error("failed to decrypt connection credential", "connection_id", conn.ID, "error", err)
			continue
		}

		minted, err := j.plaid.CreateStripeProcessorToken(ctx, accessToken, account.PlaidAccountID)
		if err != nil {
			j.logger.Warn("processor token mint failed", "account_id", account.ID, "error", err)
			continue
		}

		user, err := j.userRepo.FindByID(ctx, account.UserID)
		if err != nil {
			j.logger.Error("failed to load account owner", "account_id", account.ID, "error", err)
			continue
		}

		var sourceID *string
		if user.HasStripeCustomer() {
			source, err := j.stripe.CreateBankAccountSource(ctx, *user.StripeCustomerID, minted.StripeBankAccountToken)
			if err != nil {
				j.logger.Warn("stripe bank source creation failed", "account_id", account.ID, "error", err)
			} else {
				sourceID = &source.ID
			}
		}

		if err := j.accountRepo.AttachProcessorToken(ctx, account.ID, minted.StripeBankAccountToken, sourceID); err != nil {
			j.logger.Error("failed to persist processor token", "account_id", account.ID, "error", err)
			continue
		}
		retried++
	}

	j.logger.Info("processor link retry job finished", "retried", retried, "candidates", len(accounts))
}
