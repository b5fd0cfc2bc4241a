package server

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// SigningKeys manages the RSA key used to sign ticket payloads and access
// tokens, and exposes its public half as a JSON Web Key Set.
type SigningKeys struct {
	mu        sync.RWMutex
	key       *rsa.PrivateKey
	jwk       jose.JSONWebKey
	kid       string
	storePath string
	logger    *zap.Logger
}

// NewSigningKeys loads the key set from storePath when present, otherwise
// generates a fresh key (persisting it if a path was given).
func NewSigningKeys(storePath string, logger *zap.Logger) (*SigningKeys, error) {
	s := &SigningKeys{storePath: storePath, logger: logger}

	if storePath != "" {
		if err := s.loadFromDisk(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}
	if s.key == nil {
		if err := s.generate(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Kid returns the current key identifier.
func (s *SigningKeys) Kid() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kid
}

// Sign signs the claims as an RS256 JWT carrying the key id header.
func (s *SigningKeys) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)

	s.mu.RLock()
	defer s.mu.RUnlock()
	token.Header["kid"] = s.kid
	return token.SignedString(s.key)
}

// Keyfunc resolves the verification key during JWT validation.
func (s *SigningKeys) Keyfunc(_ *jwt.Token) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &s.key.PublicKey, nil
}

// PublicJWKS exposes the public key set for the JWKS endpoint.
func (s *SigningKeys) PublicJWKS() jose.JSONWebKeySet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{s.jwk.Public()}}
}

func (s *SigningKeys) generate() error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}
	kid := randomKID()

	s.mu.Lock()
	s.key = key
	s.kid = kid
	s.jwk = jose.JSONWebKey{Key: key, KeyID: kid, Algorithm: string(jose.RS256), Use: "sig"}
	s.mu.Unlock()

	if s.storePath != "" {
		return s.persist()
	}
	return nil
}

func (s *SigningKeys) persist() error {
	s.mu.RLock()
	payload, err := json.MarshalIndent(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{s.jwk}}, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.storePath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.storePath, payload, 0o600)
}

func (s *SigningKeys) loadFromDisk() error {
	payload, err := os.ReadFile(s.storePath)
	if err != nil {
		return err
	}
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(payload, &set); err != nil {
		return err
	}
	if len(set.Keys) == 0 {
		return errors.New("no keys in jwks file")
	}

	key, ok := set.Keys[0].Key.(*rsa.PrivateKey)
	if !ok {
		return errors.New("stored key is not an RSA private key")
	}

	s.mu.Lock()
	s.key = key
	s.kid = set.Keys[0].KeyID
	s.jwk = set.Keys[0]
	s.mu.Unlock()
	return nil
}

func randomKID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "kid"
	}
	return hex.EncodeToString(buf)
}
