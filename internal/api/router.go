/**
 * @description
 * This file sets up the HTTP router for the bank-link-service using the `chi`
 * routing library. It defines all the API routes and applies necessary
 * middleware.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: The routing library.
 * - github.com/go-chi/cors: CORS handling for browser clients.
 * - The service's internal packages for handlers and middleware.
 */
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/transfa/bank-link-service/internal/app"
	"github.com/transfa/bank-link-service/internal/config"
	"github.com/transfa/bank-link-service/pkg/middleware"
)

// NewRouter creates and configures a new HTTP router. The rate limiter is
// injected so deployments can choose the in-memory bucket or the Redis
// implementation.
func NewRouter(cfg *config.Config, service *app.LinkService, processor *app.WebhookProcessor, limiter middleware.RateLimiter) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Provider-authenticated: signature validation happens in the handler,
	// never behind user auth or rate limiting.
	r.Method(http.MethodPost, "/webhooks/plaid", NewWebhookHandler(processor, cfg.PlaidWebhookSecret))

	accountHandler := NewAccountHandler(service)

	// Group routes that require authentication
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(cfg.ClerkJWKSURL))
		r.Use(middleware.RateLimitMiddleware(limiter))

		r.Post("/link", accountHandler.Link)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", accountHandler.List)
			r.Post("/repair-primary", accountHandler.RepairPrimary)
			r.Get("/{id}", accountHandler.Get)
			r.Delete("/{id}", accountHandler.Delete)
			r.Post("/{id}/set-primary", accountHandler.SetPrimary)
			r.Post("/{id}/processor-token", accountHandler.CreateProcessorToken)
		})
	})

	return r
}
