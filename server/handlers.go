package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handlers wires the HTTP endpoints to the authentication engine, the
// token service, and the client store.
type Handlers struct {
	auth    *Authenticator
	tokens  *TokenService
	clients ClientStore
	keys    *SigningKeys
	logger  *zap.Logger
}

// NewHandlers constructs the endpoint set.
func NewHandlers(auth *Authenticator, tokens *TokenService, clients ClientStore, keys *SigningKeys, logger *zap.Logger) *Handlers {
	return &Handlers{auth: auth, tokens: tokens, clients: clients, keys: keys, logger: logger}
}

// handleToken implements the OAuth token endpoint. Client authentication
// accepts a Basic digest header or form credentials; unauthenticated
// callers get invalid_client regardless of why they failed.
func (h *Handlers) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	var principal *Principal
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Basic ") {
		principal = h.auth.AuthenticateBasic(r.Context(), header)
	} else {
		principal = h.auth.AuthenticateCredentials(r.Context(),
			r.PostFormValue("client_id"), r.PostFormValue("client_secret"))
	}
	if !principal.Authenticated() {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	clientID := principal.ClaimValue(ClaimClientID)
	if clientID == "" {
		clientID = principal.ClaimValue(ClaimID)
	}

	var (
		resp *TokenResponse
		err  error
	)
	switch r.PostFormValue("grant_type") {
	case "authorization_code":
		resp, err = h.tokens.ExchangeAuthorizationCode(r.Context(),
			r.PostFormValue("code"), clientID, r.PostFormValue("redirect_uri"))
	case "client_credentials":
		resp, err = h.tokens.ClientCredentialsGrant(r.Context(), principal)
	case "refresh_token":
		resp, err = h.tokens.RefreshGrant(r.Context(), r.PostFormValue("refresh_token"), clientID)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}

	if err != nil {
		if errors.Is(err, ErrInvalidGrant) {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		h.logger.Error("token grant failed", zap.Error(err))
		writeOAuthError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleJWKS publishes the public signing keys.
func (h *Handlers) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.keys.PublicJWKS())
}

type createClientRequest struct {
	Name        string `json:"name"`
	RedirectURI string `json:"redirect_uri"`
}

type createClientResponse struct {
	Client *Client     `json:"client"`
	Keys   *ClientKeys `json:"keys"`
}

// handleCreateClient registers a client. The generated secret and private
// key appear only in this response.
func (h *Handlers) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.RedirectURI == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	client, keys, err := h.clients.Create(r.Context(), req.Name, req.RedirectURI)
	if err != nil {
		h.logger.Error("client create failed", zap.Error(err))
		writeOAuthError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusCreated, createClientResponse{Client: client, Keys: keys})
}

// handleGetClient returns a client record.
func (h *Handlers) handleGetClient(w http.ResponseWriter, r *http.Request) {
	client, err := h.clients.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			writeOAuthError(w, http.StatusNotFound, "not_found")
			return
		}
		h.logger.Error("client get failed", zap.Error(err))
		writeOAuthError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, client)
}

// handleUpdateClient replaces a client record (administrative update).
func (h *Handlers) handleUpdateClient(w http.ResponseWriter, r *http.Request) {
	var client Client
	if err := json.NewDecoder(r.Body).Decode(&client); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if err := h.clients.Update(r.Context(), chi.URLParam(r, "id"), &client); err != nil {
		if errors.Is(err, ErrClientNotFound) {
			writeOAuthError(w, http.StatusNotFound, "not_found")
			return
		}
		h.logger.Error("client update failed", zap.Error(err))
		writeOAuthError(w, http.StatusInternalServerError, "server_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type issueCodeRequest struct {
	ClientID    string `json:"client_id"`
	RedirectURI string `json:"redirect_uri"`
	Subject     string `json:"subject"`
}

// handleIssueCode mints an authorization code for a subject after a
// redirect-bound client lookup. Stands in for the interactive authorize
// flow, which is out of scope.
func (h *Handlers) handleIssueCode(w http.ResponseWriter, r *http.Request) {
	var req issueCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Subject == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	principal := h.auth.AuthenticateClient(r.Context(), req.ClientID, req.RedirectURI)
	if !principal.Authenticated() {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	tok, err := h.tokens.IssueAuthorizationCode(r.Context(), principal, req.Subject)
	if err != nil {
		h.logger.Error("code issue failed", zap.Error(err))
		writeOAuthError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"code":       tok.ID,
		"expires_at": tok.ValidTo.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
