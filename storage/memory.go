package storage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryStore keeps all three token collections in process-local maps.
// It has no native expiry; "active" filtering is computed at query time
// from the stored ValidTo field. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[Kind]map[string]Token
	logger *zap.Logger
	now    func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the wall clock, primarily for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore constructs an owned, empty store. Lifecycle is the process
// lifetime; tests reset state by constructing a fresh instance.
func NewMemoryStore(logger *zap.Logger, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		tokens: map[Kind]map[string]Token{
			AuthorizationCode: make(map[string]Token),
			AccessToken:       make(map[string]Token),
			RefreshToken:      make(map[string]Token),
		},
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert validates the token and stores it under its identity.
func (s *MemoryStore) Insert(_ context.Context, tok Token) (*Token, error) {
	if err := validate(tok); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tok.Kind][tok.ID] = tok

	stored := tok
	return &stored, nil
}

// Get returns the token by identity, expired or not.
func (s *MemoryStore) Get(_ context.Context, kind Kind, id string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tok, ok := s.tokens[kind][id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tok, nil
}

// GetActive scans the kind's collection for tokens expiring strictly after
// cutoff, optionally bound to an exact redirect URI.
func (s *MemoryStore) GetActive(_ context.Context, kind Kind, redirectURI string, cutoff time.Time) ([]Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Token
	for _, tok := range s.tokens[kind] {
		if !tok.ValidTo.After(cutoff) {
			continue
		}
		if redirectURI != "" && tok.RedirectURI != redirectURI {
			continue
		}
		out = append(out, tok)
	}
	return out, nil
}

// Delete removes the token by identity under the write lock, so a racing
// lookup-then-delete observes the token as present exactly once.
func (s *MemoryStore) Delete(_ context.Context, tok Token) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[tok.Kind][tok.ID]; !ok {
		return false, nil
	}
	delete(s.tokens[tok.Kind], tok.ID)
	return true, nil
}

// DeleteExpired removes all tokens of the kind with ValidTo at or before
// cutoff and reports the count.
func (s *MemoryStore) DeleteExpired(_ context.Context, kind Kind, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, tok := range s.tokens[kind] {
		if tok.ValidTo.After(cutoff) {
			continue
		}
		delete(s.tokens[kind], id)
		removed++
	}
	if removed > 0 {
		s.logger.Debug("expired tokens removed",
			zap.String("kind", string(kind)),
			zap.Int("count", removed))
	}
	return removed, nil
}

var _ Store = (*MemoryStore)(nil)
