/**
 * @description
 * Domain model for a BankAccount: one real bank account under a Connection,
 * plus the pure helpers shared by the linking pipeline and the lifecycle
 * service (primary-candidate ranking, account-number masking, sanitized
 * API views).
 *
 * @notes
 * - The institution name is a projection of the parent Connection and is
 *   deliberately not a field on BankAccount. View construction requires the
 *   parent Connection to be passed in explicitly, so a call site that has
 *   not loaded it cannot compile, let alone serve stale data.
 */
package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// AccountStatus is the lifecycle state of a BankAccount.
type AccountStatus string

const (
	AccountActive   AccountStatus = "ACTIVE"
	AccountInactive AccountStatus = "INACTIVE"
	AccountError    AccountStatus = "ERROR"
)

// BankAccount represents one individual bank account under a Connection.
type BankAccount struct {
	ID             uuid.UUID     `json:"id"`
	UserID         uuid.UUID     `json:"user_id"`
	ConnectionID   uuid.UUID     `json:"connection_id"`
	PlaidAccountID string        `json:"plaid_account_id"`
	Name           string        `json:"name"`
	Type           string        `json:"type"`
	Mask           string        `json:"mask"`
	Status         AccountStatus `json:"status"`
	IsPrimary      bool          `json:"is_primary"`

	StripeProcessorToken *string    `json:"-"`
	StripeBankAccountID  *string    `json:"-"`
	TokenCreatedAt       *time.Time `json:"-"`
	TokenLastUsedAt      *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasProcessorToken reports whether the account is bridged to Stripe.
func (a *BankAccount) HasProcessorToken() bool {
	return a.StripeProcessorToken != nil && *a.StripeProcessorToken != ""
}

// BankAccountView is the sanitized representation returned by the API.
// It never carries raw credentials or processor tokens.
type BankAccountView struct {
	ID              uuid.UUID     `json:"id"`
	Name            string        `json:"name"`
	Type            string        `json:"type"`
	Mask            string        `json:"mask"`
	InstitutionName string        `json:"institution_name"`
	Status          AccountStatus `json:"status"`
	IsPrimary       bool          `json:"is_primary"`
	ProcessorLinked bool          `json:"processor_linked"`
	CreatedAt       time.Time     `json:"created_at"`
}

// NewBankAccountView builds the API view of an account. The parent Connection
// must be loaded and passed explicitly; the institution name is derived from
// it and never stored on the account row.
func NewBankAccountView(account *BankAccount, conn *Connection) (BankAccountView, error) {
	if conn == nil {
		return BankAccountView{}, fmt.Errorf("bank account %s: parent connection not loaded", account.ID)
	}
	if account.ConnectionID != conn.ID {
		return BankAccountView{}, fmt.Errorf("bank account %s: connection %s is not its parent", account.ID, conn.ID)
	}
	return BankAccountView{
		ID:              account.ID,
		Name:            account.Name,
		Type:            account.Type,
		Mask:            account.Mask,
		InstitutionName: conn.InstitutionName,
		Status:          account.Status,
		IsPrimary:       account.IsPrimary,
		ProcessorLinked: account.HasProcessorToken(),
		CreatedAt:       account.CreatedAt,
	}, nil
}

// primaryRank orders account types for primary reassignment:
// checking before savings before everything else.
func primaryRank(accountType string) int {
	switch accountType {
	case "checking":
		return 0
	case "savings":
		return 1
	default:
		return 2
	}
}

// NextPrimary selects the account to promote when a user's primary account is
// removed: the best-ranked ACTIVE account by type preference, tie-broken by
// earliest creation time. Returns nil when no ACTIVE account remains, which
// is a valid empty state.
func NextPrimary(accounts []BankAccount) *BankAccount {
	candidates := make([]BankAccount, 0, len(accounts))
	for _, a := range accounts {
		if a.Status == AccountActive {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := primaryRank(candidates[i].Type), primaryRank(candidates[j].Type)
		if ri != rj {
			return ri < rj
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	return &candidates[0]
}

// MaskAccountNumber masks an account number, keeping only the last four
// digits for display.
func MaskAccountNumber(number string) string {
	if len(number) < 4 {
		return "****"
	}
	return fmt.Sprintf("****%s", number[len(number)-4:])
}
