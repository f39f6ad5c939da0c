/**
 * @description
 * Request and response models for the Plaid API endpoints used by this
 * service: public-token exchange, institution lookup, item and account
 * listing, and Stripe processor-token creation.
 *
 * Only the fields this service reads are modeled; Plaid responses carry
 * much more, and unknown fields are ignored by encoding/json.
 */
package domain

// ExchangePublicTokenRequest is the body for /item/public_token/exchange.
type ExchangePublicTokenRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	PublicToken string `json:"public_token"`
}

// ExchangePublicTokenResponse carries the long-lived access token and the
// item id that identifies the institution link.
type ExchangePublicTokenResponse struct {
	AccessToken string `json:"access_token"`
	ItemID      string `json:"item_id"`
	RequestID   string `json:"request_id"`
}

// GetItemRequest is the body for /item/get.
type GetItemRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	AccessToken string `json:"access_token"`
}

// GetItemResponse identifies the institution behind an item.
type GetItemResponse struct {
	Item struct {
		ItemID        string  `json:"item_id"`
		InstitutionID string  `json:"institution_id"`
	} `json:"item"`
	RequestID string `json:"request_id"`
}

// GetInstitutionRequest is the body for /institutions/get_by_id.
type GetInstitutionRequest struct {
	ClientID      string   `json:"client_id"`
	Secret        string   `json:"secret"`
	InstitutionID string   `json:"institution_id"`
	CountryCodes  []string `json:"country_codes"`
}

// GetInstitutionResponse carries institution display metadata.
type GetInstitutionResponse struct {
	Institution struct {
		InstitutionID string `json:"institution_id"`
		Name          string `json:"name"`
	} `json:"institution"`
	RequestID string `json:"request_id"`
}

// GetAccountsRequest is the body for /accounts/get.
type GetAccountsRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	AccessToken string `json:"access_token"`
}

// PlaidAccount is one account as returned by /accounts/get.
type PlaidAccount struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Mask      string `json:"mask"`
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
}

// GetAccountsResponse lists the accounts under an item.
type GetAccountsResponse struct {
	Accounts  []PlaidAccount `json:"accounts"`
	RequestID string         `json:"request_id"`
}

// CreateProcessorTokenRequest is the body for
// /processor/stripe/bank_account_token/create.
type CreateProcessorTokenRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	AccessToken string `json:"access_token"`
	AccountID   string `json:"account_id"`
}

// CreateProcessorTokenResponse carries the Stripe bank account token.
type CreateProcessorTokenResponse struct {
	StripeBankAccountToken string `json:"stripe_bank_account_token"`
	RequestID              string `json:"request_id"`
}

// PlaidWebhookEvent is the envelope of an inbound Plaid webhook. The error
// object is optional and only populated on ERROR-class events.
type PlaidWebhookEvent struct {
	WebhookType string `json:"webhook_type"`
	WebhookCode string `json:"webhook_code"`
	ItemID      string `json:"item_id"`
	Error       *struct {
		ErrorCode    string `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"error"`
}

// ErrorMessage returns the provider error message, or empty when the payload
// carries none.
func (e *PlaidWebhookEvent) ErrorMessage() string {
	if e.Error == nil {
		return ""
	}
	if e.Error.ErrorMessage != "" {
		return e.Error.ErrorMessage
	}
	return e.Error.ErrorCode
}
