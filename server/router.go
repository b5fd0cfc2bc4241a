package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// NewRouter assembles the endpoint routes behind the shared middleware.
func NewRouter(h *Handlers, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggingMiddleware(logger))

	r.Post("/token", h.handleToken)
	r.Get("/.well-known/jwks.json", h.handleJWKS)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/clients", h.handleCreateClient)
		r.Get("/clients/{id}", h.handleGetClient)
		r.Put("/clients/{id}", h.handleUpdateClient)
		r.Post("/codes", h.handleIssueCode)
	})

	return r
}
