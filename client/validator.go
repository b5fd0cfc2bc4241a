// Package client validates access tokens minted by the authorization
// server, for use by relying parties.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
)

const defaultCacheTTL = 5 * time.Minute

// ValidatorConfig configures the token validator.
type ValidatorConfig struct {
	Issuer     string
	JWKSURL    string
	CacheTTL   time.Duration
	HTTPClient *http.Client
}

// Claims is a simplified view of validated token claims.
type Claims struct {
	Subject   string
	Issuer    string
	ClientID  string
	Scope     string
	TokenID   string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// Validator verifies server-signed JWT access tokens against the
// published JWKS.
type Validator struct {
	cfg    ValidatorConfig
	client *http.Client

	mu      sync.RWMutex
	set     jose.JSONWebKeySet
	expires time.Time
}

// NewValidator creates a validator with sane defaults.
func NewValidator(cfg ValidatorConfig) *Validator {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	return &Validator{cfg: cfg, client: httpClient}
}

// Validate fetches the JWKS if needed and verifies the token signature,
// expiry, and issuer.
func (v *Validator) Validate(ctx context.Context, rawToken string) (*Claims, error) {
	if rawToken == "" {
		return nil, errors.New("token required")
	}

	set, err := v.ensureJWKS(ctx)
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
	)

	mc := jwt.MapClaims{}
	tok, err := parser.ParseWithClaims(rawToken, mc, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if key := findKey(set, kid); key != nil {
			return key.Key, nil
		}
		// Refresh once on kid miss; the server may have rotated keys.
		refreshed, err := v.fetchJWKS(ctx)
		if err != nil {
			return nil, err
		}
		if key := findKey(refreshed, kid); key != nil {
			return key.Key, nil
		}
		return nil, errors.New("signing key not found")
	})
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("token invalid")
	}

	return v.mapClaims(mc)
}

func (v *Validator) ensureJWKS(ctx context.Context) (jose.JSONWebKeySet, error) {
	v.mu.RLock()
	set, expires := v.set, v.expires
	v.mu.RUnlock()

	if set.Keys != nil && time.Now().Before(expires) {
		return set, nil
	}
	return v.fetchJWKS(ctx)
}

func (v *Validator) fetchJWKS(ctx context.Context) (jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.JWKSURL, nil)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return jose.JSONWebKeySet{}, fmt.Errorf("jwks fetch failed: %s", resp.Status)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return jose.JSONWebKeySet{}, err
	}

	v.mu.Lock()
	v.set = set
	v.expires = time.Now().Add(v.cfg.CacheTTL)
	v.mu.Unlock()
	return set, nil
}

func (v *Validator) mapClaims(mc jwt.MapClaims) (*Claims, error) {
	iss, _ := mc["iss"].(string)
	if v.cfg.Issuer != "" && iss != v.cfg.Issuer {
		return nil, errors.New("issuer mismatch")
	}
	sub, _ := mc["sub"].(string)
	if sub == "" {
		return nil, errors.New("sub missing")
	}

	claims := &Claims{Subject: sub, Issuer: iss}
	claims.ClientID, _ = mc["client_id"].(string)
	claims.Scope, _ = mc["scope"].(string)
	claims.TokenID, _ = mc["jti"].(string)
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	return claims, nil
}

func findKey(set jose.JSONWebKeySet, kid string) *jose.JSONWebKey {
	if kid == "" {
		if len(set.Keys) > 0 {
			return &set.Keys[0]
		}
		return nil
	}
	for i := range set.Keys {
		if set.Keys[i].KeyID == kid {
			return &set.Keys[i]
		}
	}
	return nil
}
