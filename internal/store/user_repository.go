/**
 * @description
 * This file implements the data access layer for user records.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5/pgxpool: The PostgreSQL driver.
 * - The service's internal domain package for the User model.
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

// PostgresUserRepository is the PostgreSQL implementation of UserRepository.
type PostgresUserRepository struct {
	db *pgxpool.Pool
}

// NewPostgresUserRepository creates a new instance of PostgresUserRepository.
func NewPostgresUserRepository(db *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

// GetOrCreateByClerkID returns the user for a Clerk subject id, inserting the
// row on first contact. The ON CONFLICT no-op update makes concurrent first
// contacts converge on the same row.
func (r *PostgresUserRepository) GetOrCreateByClerkID(ctx context.Context, clerkUserID string, email *string) (*domain.User, error) {
	query := `
        INSERT INTO users (id, clerk_user_id, email)
        VALUES ($1, $2, $3)
        ON CONFLICT (clerk_user_id)
        DO UPDATE SET email = COALESCE(EXCLUDED.email, users.email), updated_at = NOW()
        RETURNING id, clerk_user_id, email, stripe_customer_id, created_at, updated_at
    `
	var u domain.User
	err := r.db.QueryRow(ctx, query, uuid.New(), clerkUserID, email).Scan(
		&u.ID, &u.ClerkUserID, &u.Email, &u.StripeCustomerID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create user: %w", err)
	}
	return &u, nil
}

// FindByID retrieves a user by internal id.
func (r *PostgresUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `
        SELECT id, clerk_user_id, email, stripe_customer_id, created_at, updated_at
        FROM users
        WHERE id = $1
    `
	var u domain.User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.ClerkUserID, &u.Email, &u.StripeCustomerID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &u, nil
}

// SetStripeCustomerID records the user's Stripe customer id once created.
func (r *PostgresUserRepository) SetStripeCustomerID(ctx context.Context, userID uuid.UUID, stripeCustomerID string) error {
	query := `UPDATE users SET stripe_customer_id = $1, updated_at = NOW() WHERE id = $2`
	tag, err := r.db.Exec(ctx, query, stripeCustomerID, userID)
	if err != nil {
		return fmt.Errorf("failed to set stripe customer id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	return nil
}
