/**
 * @description
 * Domain model for a service user. Users are created lazily on first
 * authenticated contact, keyed by the Clerk subject id from the verified JWT.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents an end user of the service.
type User struct {
	ID               uuid.UUID  `json:"id"`
	ClerkUserID      string     `json:"clerk_user_id"`
	Email            *string    `json:"email,omitempty"`
	StripeCustomerID *string    `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// HasStripeCustomer reports whether the user has been bridged to Stripe.
func (u *User) HasStripeCustomer() bool {
	return u.StripeCustomerID != nil && *u.StripeCustomerID != ""
}
