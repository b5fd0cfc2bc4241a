package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"authzd/storage"
)

// ErrInvalidGrant covers unknown, expired, mismatched, or already redeemed
// grants at the token endpoint.
var ErrInvalidGrant = errors.New("invalid_grant")

// TokenResponse matches OAuth token endpoint payloads.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenService mints and redeems tokens on top of the token repository and
// the authentication engine's principals. It owns no background work;
// expired-code cleanup runs before inserts.
type TokenService struct {
	issuer     string
	codeTTL    time.Duration
	accessTTL  time.Duration
	refreshTTL time.Duration
	store      storage.Store
	keys       *SigningKeys
	logger     *zap.Logger
	now        func() time.Time
}

// NewTokenService constructs the orchestrator.
func NewTokenService(cfg Config, store storage.Store, keys *SigningKeys, logger *zap.Logger) *TokenService {
	return &TokenService{
		issuer:     cfg.Server.PublicURL,
		codeTTL:    cfg.Tokens.CodeTTL,
		accessTTL:  cfg.Tokens.AccessTTL,
		refreshTTL: cfg.Tokens.RefreshTTL,
		store:      store,
		keys:       keys,
		logger:     logger,
		now:        time.Now,
	}
}

// IssueAuthorizationCode mints a single-use code for an authenticated
// principal. The code's ticket is a signed encoding of the principal's
// claims.
func (ts *TokenService) IssueAuthorizationCode(ctx context.Context, p *Principal, subject string) (*storage.Token, error) {
	if !p.Authenticated() {
		return nil, errors.New("principal is not authenticated")
	}

	now := ts.now().UTC()
	if _, err := ts.store.DeleteExpired(ctx, storage.AuthorizationCode, now); err != nil {
		ts.logger.Warn("expired code cleanup failed", zap.Error(err))
	}

	ticket, err := ts.signTicket(p, subject, ts.codeTTL)
	if err != nil {
		return nil, fmt.Errorf("sign code ticket: %w", err)
	}

	tok, err := ts.store.Insert(ctx, storage.Token{
		Kind:        storage.AuthorizationCode,
		ID:          uuid.NewString(),
		ClientID:    p.ClaimValue(ClaimID),
		RedirectURI: p.ClaimValue(ClaimRedirectURI),
		Subject:     subject,
		Ticket:      ticket,
		Created:     now,
		ValidTo:     now.Add(ts.codeTTL),
	})
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, errors.New("authorization code was not stored")
	}
	return tok, nil
}

// ExchangeAuthorizationCode redeems a code for an access/refresh pair.
// Redemption deletes the code first; whichever caller observes the delete
// wins, so a code is spent at most once.
func (ts *TokenService) ExchangeAuthorizationCode(ctx context.Context, code, clientID, redirectURI string) (*TokenResponse, error) {
	tok, err := ts.store.Get(ctx, storage.AuthorizationCode, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, err
	}
	if tok.ClientID != clientID || tok.RedirectURI != redirectURI || !tok.Active(ts.now()) {
		return nil, ErrInvalidGrant
	}

	present, err := ts.store.Delete(ctx, *tok)
	if err != nil {
		return nil, err
	}
	if !present {
		// Lost the redemption race.
		return nil, ErrInvalidGrant
	}

	return ts.mintPair(ctx, tok.ClientID, tok.RedirectURI, tok.Subject, "", true)
}

// ClientCredentialsGrant issues an access token for a client
// authenticating on its own behalf. No refresh token is minted.
func (ts *TokenService) ClientCredentialsGrant(ctx context.Context, p *Principal) (*TokenResponse, error) {
	if !p.Authenticated() {
		return nil, ErrInvalidGrant
	}
	clientID := p.ClaimValue(ClaimClientID)
	if clientID == "" {
		clientID = p.ClaimValue(ClaimID)
	}
	return ts.mintPair(ctx, clientID, p.ClaimValue(ClaimRedirectURI), clientID, p.ClaimValue(ClaimScope), false)
}

// RefreshGrant rotates a refresh token: the old token is redeemed
// (deleted) and a new pair is minted for the same subject.
func (ts *TokenService) RefreshGrant(ctx context.Context, refreshID, clientID string) (*TokenResponse, error) {
	tok, err := ts.store.Get(ctx, storage.RefreshToken, refreshID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, err
	}
	if tok.ClientID != clientID || !tok.Active(ts.now()) {
		return nil, ErrInvalidGrant
	}

	present, err := ts.store.Delete(ctx, *tok)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, ErrInvalidGrant
	}

	return ts.mintPair(ctx, tok.ClientID, tok.RedirectURI, tok.Subject, "", true)
}

// mintPair signs an access token, records it, and optionally mints an
// accompanying refresh token.
func (ts *TokenService) mintPair(ctx context.Context, clientID, redirectURI, subject, scope string, withRefresh bool) (*TokenResponse, error) {
	now := ts.now().UTC()
	jti := uuid.NewString()

	claims := jwt.MapClaims{
		"iss":       ts.issuer,
		"sub":       subject,
		"client_id": clientID,
		"jti":       jti,
		"iat":       now.Unix(),
		"exp":       now.Add(ts.accessTTL).Unix(),
	}
	if scope != "" {
		claims["scope"] = scope
	}
	accessToken, err := ts.keys.Sign(claims)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	stored, err := ts.store.Insert(ctx, storage.Token{
		Kind:        storage.AccessToken,
		ID:          jti,
		ClientID:    clientID,
		RedirectURI: redirectURI,
		Subject:     subject,
		Ticket:      accessToken,
		Created:     now,
		ValidTo:     now.Add(ts.accessTTL),
	})
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, errors.New("access token was not stored")
	}

	resp := &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ts.accessTTL.Seconds()),
		Scope:       scope,
	}
	if !withRefresh {
		return resp, nil
	}

	refreshID := uuid.NewString()
	refreshTicket, err := ts.keys.Sign(jwt.MapClaims{
		"iss":       ts.issuer,
		"sub":       subject,
		"client_id": clientID,
		"jti":       refreshID,
		"iat":       now.Unix(),
		"exp":       now.Add(ts.refreshTTL).Unix(),
		"token_use": "refresh",
	})
	if err != nil {
		return nil, fmt.Errorf("sign refresh ticket: %w", err)
	}

	stored, err = ts.store.Insert(ctx, storage.Token{
		Kind:        storage.RefreshToken,
		ID:          refreshID,
		ClientID:    clientID,
		RedirectURI: redirectURI,
		Subject:     subject,
		Ticket:      refreshTicket,
		Created:     now,
		ValidTo:     now.Add(ts.refreshTTL),
	})
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, errors.New("refresh token was not stored")
	}

	resp.RefreshToken = refreshID
	return resp, nil
}

// signTicket encodes the principal's claims as a signed compact payload.
func (ts *TokenService) signTicket(p *Principal, subject string, ttl time.Duration) (string, error) {
	now := ts.now().UTC()
	claims := jwt.MapClaims{
		"iss": ts.issuer,
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	for _, c := range p.Claims {
		claims[string(c.Type)] = c.Value
	}
	return ts.keys.Sign(claims)
}
