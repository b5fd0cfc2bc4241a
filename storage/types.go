// Package storage provides expiry-indexed storage for the three OAuth2
// token kinds with interchangeable in-memory and Redis backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind discriminates the token family.
type Kind string

// Token kinds managed by the repository.
const (
	AuthorizationCode Kind = "authorization_code"
	AccessToken       Kind = "access_token"
	RefreshToken      Kind = "refresh_token"
)

// ErrNotFound is returned when a token is absent from the backend.
var ErrNotFound = errors.New("storage: token not found")

// Token is a stored authorization code, access token, or refresh token.
// Identity is the (Kind, ID) pair; ID values are opaque.
type Token struct {
	Kind        Kind
	ID          string
	ClientID    string
	RedirectURI string
	Subject     string
	Ticket      string
	Created     time.Time
	ValidTo     time.Time
}

// Active reports whether the token's expiry is strictly after at.
func (t Token) Active(at time.Time) bool {
	return t.ValidTo.After(at)
}

// Store is the repository contract shared by all backends. Every token is
// bound to exactly one client and one redirect URI; redirect filters match
// exactly, never by prefix or host.
type Store interface {
	// Insert validates and persists a token, indexing it by expiry.
	// Validation failures return a *ValidationError with no state change.
	// Backend write failures are logged and reported as an absent token
	// with a nil error; callers must treat "no token" as a failed flow.
	Insert(ctx context.Context, tok Token) (*Token, error)

	// Get looks a token up by identity regardless of expiry. Missing
	// tokens yield ErrNotFound.
	Get(ctx context.Context, kind Kind, id string) (*Token, error)

	// GetActive returns all tokens of the kind with ValidTo strictly
	// after cutoff. A non-empty redirectURI restricts results to tokens
	// bound to exactly that URI. Ordering is unspecified.
	GetActive(ctx context.Context, kind Kind, redirectURI string, cutoff time.Time) ([]Token, error)

	// Delete removes the token by identity and reports whether it was
	// present. Exactly one of two racing deletes observes true.
	Delete(ctx context.Context, tok Token) (bool, error)

	// DeleteExpired bulk-removes tokens with ValidTo at or before cutoff
	// and returns how many entries were removed.
	DeleteExpired(ctx context.Context, kind Kind, cutoff time.Time) (int, error)
}

// ValidationError reports a token rejected before any write.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("storage: token missing required field %q", e.Field)
}

// validate enforces the mandatory fields for an insert. Authorization codes
// additionally require the ticket payload.
func validate(tok Token) error {
	switch {
	case tok.ID == "":
		return &ValidationError{Field: "id"}
	case tok.ClientID == "":
		return &ValidationError{Field: "client_id"}
	case tok.RedirectURI == "":
		return &ValidationError{Field: "redirect_uri"}
	case tok.Subject == "":
		return &ValidationError{Field: "subject"}
	case tok.Created.IsZero():
		return &ValidationError{Field: "created"}
	case tok.ValidTo.IsZero():
		return &ValidationError{Field: "valid_to"}
	case tok.Kind == AuthorizationCode && tok.Ticket == "":
		return &ValidationError{Field: "ticket"}
	}
	return nil
}
