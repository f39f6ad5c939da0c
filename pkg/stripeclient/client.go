/**
 * @description
 * This package provides a minimal client for the Stripe API operations this
 * service needs: creating a customer, and attaching a Plaid-issued processor
 * token to that customer as a bank account payment source.
 *
 * Stripe's API is form-encoded rather than JSON, so requests are built with
 * url.Values instead of the JSON helper used by the Plaid client.
 *
 * @dependencies
 * - context, fmt, io, net/http, net/url, strings, time: Standard Go libraries.
 */
package stripeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/transfa/bank-link-service/internal/domain"
)

// Client is a client for the Stripe API.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient creates a new Stripe API client.
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		baseURL:   baseURL,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Customer is the subset of Stripe's customer object this service reads.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// BankAccountSource is the subset of Stripe's bank account object this
// service reads.
type BankAccountSource struct {
	ID       string `json:"id"`
	Last4    string `json:"last4"`
	BankName string `json:"bank_name"`
}

// CreateCustomer creates a Stripe customer for the given email.
func (c *Client) CreateCustomer(ctx context.Context, email string) (*Customer, error) {
	form := url.Values{}
	if email != "" {
		form.Set("email", email)
	}

	var customer Customer
	if err := c.do(ctx, "/v1/customers", form, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// CreateBankAccountSource attaches a Plaid processor token to a Stripe
// customer as a bank account source.
func (c *Client) CreateBankAccountSource(ctx context.Context, customerID, processorToken string) (*BankAccountSource, error) {
	form := url.Values{}
	form.Set("source", processorToken)

	var source BankAccountSource
	path := fmt.Sprintf("/v1/customers/%s/sources", customerID)
	if err := c.do(ctx, path, form, &source); err != nil {
		return nil, err
	}
	return &source, nil
}

// do is a helper function to make form-encoded HTTP requests to Stripe.
func (c *Client) do(ctx context.Context, path string, form url.Values, target interface{}) error {
	endpoint := fmt.Sprintf("%s%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	log.Printf("Making Stripe API request: POST %s", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: stripe request failed: %v", domain.ErrExternalService, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("Stripe API returned status %d for %s", resp.StatusCode, path)
		return fmt.Errorf("%w: stripe returned status %d", domain.ErrExternalService, resp.StatusCode)
	}

	if target != nil {
		if err := json.Unmarshal(respBody, target); err != nil {
			return fmt.Errorf("failed to unmarshal stripe response: %w", err)
		}
	}

	return nil
}
