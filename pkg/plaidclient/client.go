/**
 * @description
 * This package provides a client for interacting with the Plaid API. It
 * encapsulates the logic for making authenticated HTTP requests to the
 * endpoints this service needs: token exchange, item and institution lookup,
 * account listing, and Stripe processor-token creation.
 *
 * Key features:
 * - Manages the API base URL and client credentials.
 * - Handles JSON serialization/deserialization and error handling for API calls.
 * - Never logs access tokens or processor tokens.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, net/http, time: Standard Go libraries.
 * - The service's internal domain package for Plaid request/response models.
 */
package plaidclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/transfa/bank-link-service/internal/domain"
)

// Client is a client for the Plaid API.
type Client struct {
	baseURL    string
	clientID   string
	secret     string
	httpClient *http.Client
}

// NewClient creates a new Plaid API client.
func NewClient(baseURL, clientID, secret string) *Client {
	return &Client{
		baseURL:  baseURL,
		clientID: clientID,
		secret:   secret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ExchangePublicToken exchanges a one-time Link public token for a long-lived
// access token and the item id identifying the institution link.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (*domain.ExchangePublicTokenResponse, error) {
	req := domain.ExchangePublicTokenRequest{
		ClientID:    c.clientID,
		Secret:      c.secret,
		PublicToken: publicToken,
	}
	var resp domain.ExchangePublicTokenResponse
	if err := c.do(ctx, "/item/public_token/exchange", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetItem fetches the item metadata, including its institution id.
func (c *Client) GetItem(ctx context.Context, accessToken string) (*domain.GetItemResponse, error) {
	req := domain.GetItemRequest{ClientID: c.clientID, Secret: c.secret, AccessToken: accessToken}
	var resp domain.GetItemResponse
	if err := c.do(ctx, "/item/get", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetInstitution fetches display metadata for an institution.
func (c *Client) GetInstitution(ctx context.Context, institutionID string) (*domain.GetInstitutionResponse, error) {
	req := domain.GetInstitutionRequest{
		ClientID:      c.clientID,
		Secret:        c.secret,
		InstitutionID: institutionID,
		CountryCodes:  []string{"US"},
	}
	var resp domain.GetInstitutionResponse
	if err := c.do(ctx, "/institutions/get_by_id", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAccounts lists the bank accounts under an item.
func (c *Client) GetAccounts(ctx context.Context, accessToken string) (*domain.GetAccountsResponse, error) {
	req := domain.GetAccountsRequest{ClientID: c.clientID, Secret: c.secret, AccessToken: accessToken}
	var resp domain.GetAccountsResponse
	if err := c.do(ctx, "/accounts/get", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateStripeProcessorToken mints a Stripe-compatible bank account token for
// a specific account under an item.
func (c *Client) CreateStripeProcessorToken(ctx context.Context, accessToken, accountID string) (*domain.CreateProcessorTokenResponse, error) {
	req := domain.CreateProcessorTokenRequest{
		ClientID:    c.clientID,
		Secret:      c.secret,
		AccessToken: accessToken,
		AccountID:   accountID,
	}
	var resp domain.CreateProcessorTokenResponse
	if err := c.do(ctx, "/processor/stripe/bank_account_token/create", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do is a helper function to make HTTP requests to the Plaid API.
func (c *Client) do(ctx context.Context, path string, body, target interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	url := fmt.Sprintf("%s%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Printf("Making Plaid API request: POST %s", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: plaid request failed: %v", domain.ErrExternalService, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Plaid error bodies carry no secrets, only error codes.
		log.Printf("Plaid API returned status %d for %s: %s", resp.StatusCode, path, string(respBody))
		return fmt.Errorf("%w: plaid returned status %d", domain.ErrExternalService, resp.StatusCode)
	}

	if target != nil {
		if err := json.Unmarshal(respBody, target); err != nil {
			return fmt.Errorf("failed to unmarshal plaid response: %w", err)
		}
	}

	return nil
}
