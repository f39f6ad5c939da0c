/**
 * @description
 * This file contains the HTTP handler for processing incoming webhooks from
 * Plaid. It acts as the entry point for all real-time item notifications
 * from the aggregation provider.
 *
 * Key features:
 * - Security: validates the HMAC-SHA256 signature of the raw body with a
 *   constant-time comparison when a signing secret is configured.
 * - Always acknowledges with 200 once the signature passes: Plaid retries
 *   unacknowledged deliveries, and retrying cannot fix a malformed payload
 *   or an unknown item, so failing loudly to the provider is pointless.
 *   Such payloads are logged internally as defects instead.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex: For signature validation.
 * - encoding/json, io, net/http: Standard HTTP plumbing.
 * - The service's internal app package for the transition logic.
 */
package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/transfa/bank-link-service/internal/app"
	"github.com/transfa/bank-link-service/internal/domain"
)

// WebhookHandler processes incoming webhooks from Plaid.
type WebhookHandler struct {
	processor *app.WebhookProcessor
	secret    string
}

// NewWebhookHandler creates a new handler for the webhook endpoint. An empty
// secret disables signature validation.
func NewWebhookHandler(processor *app.WebhookProcessor, secret string) *WebhookHandler {
	return &WebhookHandler{processor: processor, secret: secret}
}

// ServeHTTP implements the http.Handler interface.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("Error reading webhook body: %v", err)
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	// The signature covers the raw, unparsed body. A mismatch is the only
	// condition that is not acknowledged.
	if !h.isValidSignature(r.Header.Get("Plaid-Verification"), body) {
		log.Printf("Error: invalid webhook signature from %s", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var event domain.PlaidWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		// Malformed payloads cannot be fixed by provider retries; ack and
		// record the defect.
		log.Printf("Error decoding webhook JSON (acknowledged anyway): %v", err)
		h.ack(w)
		return
	}

	if err := h.processor.Process(r.Context(), event); err != nil {
		// Internal failures are logged; the provider still gets an ack and
		// state converges on the next event for this item.
		log.Printf("Error processing webhook %s for item %s: %v", event.WebhookCode, event.ItemID, err)
	}

	h.ack(w)
}

func (h *WebhookHandler) ack(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// isValidSignature computes an HMAC-SHA256 over the raw body and compares it
// to the hex signature header in constant time. Validation is skipped when no
// secret is configured.
func (h *WebhookHandler) isValidSignature(signatureHeader string, body []byte) bool {
	if h.secret == "" {
		return true
	}

	provided, err := hex.DecodeString(strings.TrimSpace(signatureHeader))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}
