/**
 * @description
 * This file implements the data access layer for BankAccounts. The
 * invariant-sensitive operations (SetPrimaryAccount, DeactivateAccount) run
 * inside a single database transaction with the user's account rows locked,
 * so a concurrent reader never observes zero or two primary accounts for the
 * same user between commits.
 *
 * @notes
 * - The partial unique index uniq_primary_active_per_user on
 *   bank_accounts(user_id) WHERE is_primary AND status = 'ACTIVE' is the
 *   final backstop: if two concurrent link calls for a brand-new user both
 *   try to default a primary, the second insert fails and is retried
 *   non-primary.
 */
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/transfa/bank-link-service/internal/domain"
)

const uniquePrimaryIndex = "uniq_primary_active_per_user"

// PostgresAccountRepository is the PostgreSQL implementation of
// AccountRepository.
type PostgresAccountRepository struct {
	db *pgxpool.Pool
}

// NewPostgresAccountRepository creates a new instance of
// PostgresAccountRepository.
func NewPostgresAccountRepository(db *pgxpool.Pool) *PostgresAccountRepository {
	return &PostgresAccountRepository{db: db}
}

const accountColumns = `id, user_id, connection_id, plaid_account_id, name, type, mask,
        status, is_primary, stripe_processor_token, stripe_bank_account_id,
        token_created_at, token_last_used_at, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.BankAccount, error) {
	var a domain.BankAccount
	err := row.Scan(
		&a.ID, &a.UserID, &a.ConnectionID, &a.PlaidAccountID, &a.Name, &a.Type,
		&a.Mask, &a.Status, &a.IsPrimary, &a.StripeProcessorToken,
		&a.StripeBankAccountID, &a.TokenCreatedAt, &a.TokenLastUsedAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpsertByPlaidAccountID creates an account or refreshes and reactivates the
// existing one, keyed on the immutable Plaid account id. Owner and parent
// connection are never updated on conflict; is_primary is preserved on
// existing rows since soft-delete already cleared it where required.
func (r *PostgresAccountRepository) UpsertByPlaidAccountID(ctx context.Context, account *domain.BankAccount, defaultPrimary bool) (*domain.BankAccount, error) {
	query := `
        INSERT INTO bank_accounts
            (id, user_id, connection_id, plaid_account_id, name, type, mask, status, is_primary)
        VALUES ($1, $2, $3, $4, $5, $6, $7, 'ACTIVE', $8)
        ON CONFLICT (plaid_account_id) DO UPDATE SET
            name       = EXCLUDED.name,
            type       = EXCLUDED.type,
            mask       = EXCLUDED.mask,
            status     = 'ACTIVE',
            updated_at = NOW()
        RETURNING ` + accountColumns

	row := r.db.QueryRow(ctx, query,
		uuid.New(), account.UserID, account.ConnectionID, account.PlaidAccountID,
		account.Name, account.Type, account.Mask, defaultPrimary,
	)
	upserted, err := scanAccount(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if defaultPrimary && errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == uniquePrimaryIndex {
			// A concurrent link already defaulted a primary for this user;
			// retry this account without the primary flag.
			return r.UpsertByPlaidAccountID(ctx, account, false)
		}
		return nil, fmt.Errorf("failed to upsert bank account: %w", err)
	}
	return upserted, nil
}

// FindByID retrieves an account by internal id.
func (r *PostgresAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.BankAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM bank_accounts WHERE id = $1`
	account, err := scanAccount(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("bank account %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find bank account: %w", err)
	}
	return account, nil
}

// FindWithConnection loads an account and its parent Connection in one round
// trip. The parent is required for view construction.
func (r *PostgresAccountRepository) FindWithConnection(ctx context.Context, id uuid.UUID) (*domain.BankAccount, *domain.Connection, error) {
	query := `
        SELECT a.id, a.user_id, a.connection_id, a.plaid_account_id, a.name, a.type, a.mask,
               a.status, a.is_primary, a.stripe_processor_token, a.stripe_bank_account_id,
               a.token_created_at, a.token_last_used_at, a.created_at, a.updated_at,
               c.id, c.user_id, c.plaid_item_id, c.encrypted_access_token,
               c.institution_id, c.institution_name, c.status, c.last_error,
               c.last_webhook_at, c.created_at, c.updated_at
        FROM bank_accounts a
        JOIN connections c ON c.id = a.connection_id
        WHERE a.id = $1
    `
	var a domain.BankAccount
	var c domain.Connection
	err := r.db.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.UserID, &a.ConnectionID, &a.PlaidAccountID, &a.Name, &a.Type,
		&a.Mask, &a.Status, &a.IsPrimary, &a.StripeProcessorToken,
		&a.StripeBankAccountID, &a.TokenCreatedAt, &a.TokenLastUsedAt,
		&a.CreatedAt, &a.UpdatedAt,
		&c.ID, &c.UserID, &c.PlaidItemID, &c.EncryptedAccessToken,
		&c.InstitutionID, &c.InstitutionName, &c.Status, &c.LastError,
		&c.LastWebhookAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("bank account %s: %w", id, domain.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("failed to find bank account with connection: %w", err)
	}
	return &a, &c, nil
}

// ListByUserID retrieves a user's accounts, optionally filtered, sorted
// primary-first then by creation order.
func (r *PostgresAccountRepository) ListByUserID(ctx context.Context, userID uuid.UUID, filter AccountFilter) ([]domain.BankAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM bank_accounts WHERE user_id = $1`
	args := []interface{}{userID}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.IsPrimary != nil {
		args = append(args, *filter.IsPrimary)
		query += fmt.Sprintf(" AND is_primary = $%d", len(args))
	}
	query += " ORDER BY is_primary DESC, created_at ASC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bank accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.BankAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bank account row: %w", err)
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// CountActiveByUserID counts a user's ACTIVE accounts.
func (r *PostgresAccountRepository) CountActiveByUserID(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM bank_accounts WHERE user_id = $1 AND status = 'ACTIVE'`
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active accounts: %w", err)
	}
	return count, nil
}

// SetPrimaryAccount atomically makes the target the user's only primary
// ACTIVE account. The user's account rows are locked for the duration of the
// transaction so the unset-then-set pair is never observed half-applied.
func (r *PostgresAccountRepository) SetPrimaryAccount(ctx context.Context, userID, accountID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var ownerID uuid.UUID
	var status domain.AccountStatus
	err = tx.QueryRow(ctx,
		`SELECT user_id, status FROM bank_accounts WHERE id = $1 FOR UPDATE`,
		accountID,
	).Scan(&ownerID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("bank account %s: %w", accountID, domain.ErrNotFound)
		}
		return err
	}
	if ownerID != userID {
		return fmt.Errorf("bank account %s: %w", accountID, domain.ErrForbidden)
	}
	if status != domain.AccountActive {
		return fmt.Errorf("cannot set primary on %s account: %w", status, domain.ErrValidation)
	}

	// Lock the rest of the user's rows before the multi-row update.
	if _, err := tx.Exec(ctx,
		`SELECT id FROM bank_accounts WHERE user_id = $1 FOR UPDATE`, userID,
	); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE bank_accounts SET is_primary = FALSE, updated_at = NOW()
         WHERE user_id = $1 AND is_primary AND id <> $2`,
		userID, accountID,
	); err != nil {
		return fmt.Errorf("failed to unset previous primary: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE bank_accounts SET is_primary = TRUE, updated_at = NOW() WHERE id = $1`,
		accountID,
	); err != nil {
		return fmt.Errorf("failed to set primary: %w", err)
	}

	return tx.Commit(ctx)
}

// DeactivateAccount atomically soft-deletes an account (status INACTIVE,
// is_primary cleared) and, if it was the ACTIVE primary, promotes the best
// remaining ACTIVE account by type preference (checking > savings > other)
// tie-broken by earliest creation. Returns the promoted account id, or nil.
func (r *PostgresAccountRepository) DeactivateAccount(ctx context.Context, userID, accountID uuid.UUID) (*uuid.UUID, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var ownerID uuid.UUID
	var status domain.AccountStatus
	var wasPrimary bool
	err = tx.QueryRow(ctx,
		`SELECT user_id, status, is_primary FROM bank_accounts WHERE id = $1 FOR UPDATE`,
		accountID,
	).Scan(&ownerID, &status, &wasPrimary)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("bank account %s: %w", accountID, domain.ErrNotFound)
		}
		return nil, err
	}
	if ownerID != userID {
		return nil, fmt.Errorf("bank account %s: %w", accountID, domain.ErrForbidden)
	}

	if _, err := tx.Exec(ctx,
		`SELECT id FROM bank_accounts WHERE user_id = $1 FOR UPDATE`, userID,
	); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE bank_accounts SET status = 'INACTIVE', is_primary = FALSE, updated_at = NOW()
         WHERE id = $1`,
		accountID,
	); err != nil {
		return nil, fmt.Errorf("failed to deactivate account: %w", err)
	}

	var promoted *uuid.UUID
	if wasPrimary && status == domain.AccountActive {
		var promotedID uuid.UUID
		err = tx.QueryRow(ctx,
			`UPDATE bank_accounts SET is_primary = TRUE, updated_at = NOW()
             WHERE id = (
                 SELECT id FROM bank_accounts
                 WHERE user_id = $1 AND status = 'ACTIVE'
                 ORDER BY CASE type WHEN 'checking' THEN 0 WHEN 'savings' THEN 1 ELSE 2 END,
                          created_at ASC, id ASC
                 LIMIT 1
             )
             RETURNING id`,
			userID,
		).Scan(&promotedID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to reassign primary: %w", err)
		}
		if err == nil {
			promoted = &promotedID
		}
		// No remaining ACTIVE account is a valid empty state.
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return promoted, nil
}

// AttachProcessorToken stores a freshly minted processor token and, when the
// Stripe source call succeeded, the resulting bank account id.
func (r *PostgresAccountRepository) AttachProcessorToken(ctx context.Context, accountID uuid.UUID, processorToken string, stripeBankAccountID *string) error {
	query := `
        UPDATE bank_accounts
        SET stripe_processor_token = $1,
            stripe_bank_account_id = COALESCE($2, stripe_bank_account_id),
            token_created_at       = NOW(),
            token_last_used_at     = NOW(),
            updated_at             = NOW()
        WHERE id = $3
    `
	tag, err := r.db.Exec(ctx, query, processorToken, stripeBankAccountID, accountID)
	if err != nil {
		return fmt.Errorf("failed to attach processor token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bank account %s: %w", accountID, domain.ErrNotFound)
	}
	return nil
}

// TouchProcessorToken stamps token_last_used_at when a cached token is reused.
func (r *PostgresAccountRepository) TouchProcessorToken(ctx context.Context, accountID uuid.UUID) error {
	query := `UPDATE bank_accounts SET token_last_used_at = NOW(), updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, accountID)
	if err != nil {
		return fmt.Errorf("failed to touch processor token: %w", err)
	}
	return nil
}

// ListActiveMissingProcessorToken returns ACTIVE accounts without a processor
// token whose owner already has a Stripe customer. Feeds the retry job.
func (r *PostgresAccountRepository) ListActiveMissingProcessorToken(ctx context.Context, limit int) ([]domain.BankAccount, error) {
	query := `
        SELECT ` + prefixedAccountColumns("a") + `
        FROM bank_accounts a
        JOIN users u ON u.id = a.user_id
        WHERE a.status = 'ACTIVE'
          AND a.stripe_processor_token IS NULL
          AND u.stripe_customer_id IS NOT NULL
        ORDER BY a.created_at ASC
        LIMIT $1
    `
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts missing processor token: %w", err)
	}
	defer rows.Close()

	var accounts []domain.BankAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bank account row: %w", err)
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

func prefixedAccountColumns(alias string) string {
	return alias + `.id, ` + alias + `.user_id, ` + alias + `.connection_id, ` + alias + `.plaid_account_id, ` +
		alias + `.name, ` + alias + `.type, ` + alias + `.mask, ` + alias + `.status, ` + alias + `.is_primary, ` +
		alias + `.stripe_processor_token, ` + alias + `.stripe_bank_account_id, ` +
		alias + `.token_created_at, ` + alias + `.token_last_used_at, ` + alias + `.created_at, ` + alias + `.updated_at`
}
