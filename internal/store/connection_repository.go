/**
 * @description
 * This file implements the data access layer for Connections (Plaid items).
 * The upsert is keyed on the globally unique, immutable plaid_item_id so that
 * relinking the same institution converges on the existing row instead of
 * creating a duplicate.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5/pgxpool: The PostgreSQL driver.
 * - The service's internal domain package for the Connection model.
 */
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/transfa/bank-link-service/internal/domain"
)

// PostgresConnectionRepository is the PostgreSQL implementation of
// ConnectionRepository.
type PostgresConnectionRepository struct {
	db *pgxpool.Pool
}

// NewPostgresConnectionRepository creates a new instance of
// PostgresConnectionRepository.
func NewPostgresConnectionRepository(db *pgxpool.Pool) *PostgresConnectionRepository {
	return &PostgresConnectionRepository{db: db}
}

const connectionColumns = `id, user_id, plaid_item_id, encrypted_access_token,
        institution_id, institution_name, status, last_error, last_webhook_at,
        created_at, updated_at`

func scanConnection(row pgx.Row) (*domain.Connection, error) {
	var c domain.Connection
	err := row.Scan(
		&c.ID, &c.UserID, &c.PlaidItemID, &c.EncryptedAccessToken,
		&c.InstitutionID, &c.InstitutionName, &c.Status, &c.LastError,
		&c.LastWebhookAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertByItemID creates a Connection or relinks the existing one. Relinking
// resets status to ACTIVE, clears the error message and replaces the
// credential. last_webhook_at is deliberately untouched: only webhook
// processing writes it.
func (r *PostgresConnectionRepository) UpsertByItemID(ctx context.Context, conn *domain.Connection) (*domain.Connection, error) {
	query := `
        INSERT INTO connections
            (id, user_id, plaid_item_id, encrypted_access_token, institution_id, institution_name, status)
        VALUES ($1, $2, $3, $4, $5, $6, 'ACTIVE')
        ON CONFLICT (plaid_item_id) DO UPDATE SET
            encrypted_access_token = EXCLUDED.encrypted_access_token,
            institution_id         = EXCLUDED.institution_id,
            institution_name       = EXCLUDED.institution_name,
            status                 = 'ACTIVE',
            last_error             = NULL,
            updated_at             = NOW()
        RETURNING ` + connectionColumns
	row := r.db.QueryRow(ctx, query,
		uuid.New(), conn.UserID, conn.PlaidItemID, conn.EncryptedAccessToken,
		conn.InstitutionID, conn.InstitutionName,
	)
	upserted, err := scanConnection(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert connection: %w", err)
	}
	return upserted, nil
}

// FindByItemID retrieves a Connection by its Plaid item id.
func (r *PostgresConnectionRepository) FindByItemID(ctx context.Context, plaidItemID string) (*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE plaid_item_id = $1`
	conn, err := scanConnection(r.db.QueryRow(ctx, query, plaidItemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("connection for item %s: %w", plaidItemID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find connection by item id: %w", err)
	}
	return conn, nil
}

// FindByID retrieves a Connection by internal id.
func (r *PostgresConnectionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`
	conn, err := scanConnection(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find connection: %w", err)
	}
	return conn, nil
}

// ListByUserID retrieves all Connections owned by a user.
func (r *PostgresConnectionRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE user_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var connections []domain.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection row: %w", err)
		}
		connections = append(connections, *conn)
	}
	return connections, rows.Err()
}

// ApplyTransition persists a webhook-driven state transition and stamps
// last_webhook_at. Transitions are absolute (status, message) values, not
// deltas, so redelivered events persist the same final state.
func (r *PostgresConnectionRepository) ApplyTransition(ctx context.Context, connectionID uuid.UUID, t domain.Transition) error {
	query := `
        UPDATE connections
        SET status = $1, last_error = $2, last_webhook_at = NOW(), updated_at = NOW()
        WHERE id = $3
    `
	tag, err := r.db.Exec(ctx, query, t.Status, t.ErrorMessage, connectionID)
	if err != nil {
		return fmt.Errorf("failed to apply connection transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("connection %s: %w", connectionID, domain.ErrNotFound)
	}
	return nil
}
