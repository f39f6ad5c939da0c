/**
 * @description
 * This file defines the HTTP handlers for the bank-link-service's
 * user-facing API endpoints. Handlers are responsible for parsing requests,
 * calling the appropriate service method, and writing the response.
 *
 * @dependencies
 * - Standard Go libraries for HTTP, JSON, etc.
 * - Chi router for URL parameter handling.
 * - The service's internal packages for app logic and middleware.
 */
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/transfa/bank-link-service/internal/app"
	"github.com/transfa/bank-link-service/internal/domain"
	"github.com/transfa/bank-link-service/internal/store"
	"github.com/transfa/bank-link-service/pkg/middleware"
)

// AccountHandler holds the dependencies for account-related handlers.
type AccountHandler struct {
	service *app.LinkService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(service *app.LinkService) *AccountHandler {
	return &AccountHandler{service: service}
}

// LinkRequest defines the expected JSON body for linking an institution.
type LinkRequest struct {
	PublicToken string `json:"public_token"`
}

// Link handles POST /link: runs the full linking pipeline.
func (h *AccountHandler) Link(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PublicToken == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	accounts, err := h.service.LinkBankAccounts(r.Context(), userID, req.PublicToken)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"accounts": accounts})
}

// List handles GET /accounts with optional status and primary filters.
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var filter store.AccountFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.AccountStatus(raw)
		switch status {
		case domain.AccountActive, domain.AccountInactive, domain.AccountError:
			filter.Status = &status
		default:
			http.Error(w, "Invalid status filter", http.StatusBadRequest)
			return
		}
	}
	if raw := r.URL.Query().Get("primary"); raw != "" {
		primary := raw == "true"
		filter.IsPrimary = &primary
	}

	accounts, err := h.service.ListAccounts(r.Context(), userID, filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}

// Get handles GET /accounts/{id}.
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid account id", http.StatusBadRequest)
		return
	}

	account, err := h.service.GetAccount(r.Context(), userID, accountID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// Delete handles DELETE /accounts/{id}: soft-deletes the account.
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid account id", http.StatusBadRequest)
		return
	}

	if err := h.service.RemoveAccount(r.Context(), userID, accountID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetPrimary handles POST /accounts/{id}/set-primary.
func (h *AccountHandler) SetPrimary(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid account id", http.StatusBadRequest)
		return
	}

	if err := h.service.SetPrimaryAccount(r.Context(), userID, accountID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// CreateProcessorToken handles POST /accounts/{id}/processor-token.
func (h *AccountHandler) CreateProcessorToken(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid account id", http.StatusBadRequest)
		return
	}

	token, err := h.service.CreateProcessorToken(r.Context(), userID, accountID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"token": token})
}

// RepairPrimary handles POST /accounts/repair-primary.
func (h *AccountHandler) RepairPrimary(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	promoted, err := h.service.RepairPrimary(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]interface{}{"promoted": nil}
	if promoted != nil {
		resp["promoted"] = promoted.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeError maps domain error sentinels to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	case errors.Is(err, domain.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrValidation):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrConflict):
		http.Error(w, "Conflict", http.StatusConflict)
	case errors.Is(err, domain.ErrExternalService):
		http.Error(w, "Upstream provider error", http.StatusBadGateway)
	default:
		log.Printf("Internal error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
