/**
 * @description
 * This file defines the shared error taxonomy for the bank-link-service.
 * Service and repository code wraps these sentinels with fmt.Errorf and %w;
 * the API layer maps them to HTTP status codes with errors.Is.
 */
package domain

import "errors"

var (
	// ErrUnauthorized indicates a missing or invalid caller identity or
	// webhook signature.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the entity exists but is owned by another user.
	ErrForbidden = errors.New("forbidden")

	// ErrValidation indicates the entity is in an invalid state for the
	// requested operation, e.g. set-primary on an inactive account.
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates the operation would violate the single-primary
	// invariant. Only reachable if the transactional paths are bypassed;
	// surfaced so the database backstop is never silently swallowed.
	ErrConflict = errors.New("conflict")

	// ErrExternalService indicates a Plaid or Stripe call failed or timed out.
	ErrExternalService = errors.New("external service error")
)
