package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// base is a whole-second reference in the near future so both backends see
// identical expiry arithmetic (the index scores are Unix seconds and the
// redis backend sets absolute key expirations).
func testBase() time.Time {
	return time.Now().Add(time.Hour).Truncate(time.Second).UTC()
}

func testToken(kind Kind, id string, base time.Time) Token {
	return Token{
		Kind:        kind,
		ID:          id,
		ClientID:    "c1",
		RedirectURI: "http://localhost",
		Subject:     "u1",
		Ticket:      "ticket-" + id,
		Created:     base,
		ValidTo:     base.Add(60 * time.Second),
	}
}

// runStoreConformance exercises the behavior both backends must share.
func runStoreConformance(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("insert rejects missing fields", func(t *testing.T) {
		s := newStore(t)
		base := testBase()

		cases := []struct {
			name  string
			mut   func(*Token)
			field string
		}{
			{"missing id", func(tok *Token) { tok.ID = "" }, "id"},
			{"missing client", func(tok *Token) { tok.ClientID = "" }, "client_id"},
			{"missing redirect", func(tok *Token) { tok.RedirectURI = "" }, "redirect_uri"},
			{"missing subject", func(tok *Token) { tok.Subject = "" }, "subject"},
			{"missing created", func(tok *Token) { tok.Created = time.Time{} }, "created"},
			{"missing expiry", func(tok *Token) { tok.ValidTo = time.Time{} }, "valid_to"},
			{"code missing ticket", func(tok *Token) { tok.Ticket = "" }, "ticket"},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				tok := testToken(AuthorizationCode, "bad", base)
				tc.mut(&tok)

				stored, err := s.Insert(ctx, tok)
				require.Error(t, err)
				assert.Nil(t, stored)

				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tc.field, verr.Field)
			})
		}
	})

	t.Run("ticket optional for access and refresh tokens", func(t *testing.T) {
		s := newStore(t)
		base := testBase()

		for _, kind := range []Kind{AccessToken, RefreshToken} {
			tok := testToken(kind, "no-ticket-"+string(kind), base)
			tok.Ticket = ""
			stored, err := s.Insert(ctx, tok)
			require.NoError(t, err)
			require.NotNil(t, stored)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		s := newStore(t)
		base := testBase()

		tok := testToken(AuthorizationCode, "abc", base)
		stored, err := s.Insert(ctx, tok)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, tok.ID, stored.ID)

		got, err := s.Get(ctx, AuthorizationCode, "abc")
		require.NoError(t, err)
		assert.Equal(t, "c1", got.ClientID)
		assert.Equal(t, "http://localhost", got.RedirectURI)
		assert.Equal(t, "u1", got.Subject)
		assert.Equal(t, "ticket-abc", got.Ticket)
		assert.True(t, got.Created.Equal(tok.Created))
		assert.True(t, got.ValidTo.Equal(tok.ValidTo))

		active, err := s.GetActive(ctx, AuthorizationCode, "http://localhost", base)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "abc", active[0].ID)

		present, err := s.Delete(ctx, tok)
		require.NoError(t, err)
		assert.True(t, present)

		_, err = s.Get(ctx, AuthorizationCode, "abc")
		assert.ErrorIs(t, err, ErrNotFound)

		active, err = s.GetActive(ctx, AuthorizationCode, "http://localhost", base)
		require.NoError(t, err)
		assert.Empty(t, active)

		present, err = s.Delete(ctx, tok)
		require.NoError(t, err)
		assert.False(t, present)
	})

	t.Run("expiry boundary is strict", func(t *testing.T) {
		s := newStore(t)
		base := testBase()

		tok := testToken(AccessToken, "edge", base)
		_, err := s.Insert(ctx, tok)
		require.NoError(t, err)

		// expires_at == cutoff is not active.
		active, err := s.GetActive(ctx, AccessToken, "", tok.ValidTo)
		require.NoError(t, err)
		assert.Empty(t, active)

		active, err = s.GetActive(ctx, AccessToken, "", tok.ValidTo.Add(-time.Second))
		require.NoError(t, err)
		assert.Len(t, active, 1)

		// Still reachable by direct lookup until physically removed.
		got, err := s.Get(ctx, AccessToken, "edge")
		require.NoError(t, err)
		assert.Equal(t, "edge", got.ID)
	})

	t.Run("redirect filter matches exactly", func(t *testing.T) {
		s := newStore(t)
		base := testBase()

		a := testToken(AuthorizationCode, "a", base)
		b := testToken(AuthorizationCode, "b", base)
		b.RedirectURI = "http://localhost/callback"
		for _, tok := range []Token{a, b} {
			_, err := s.Insert(ctx, tok)
			require.NoError(t, err)
		}

		active, err := s.GetActive(ctx, AuthorizationCode, "http://localhost", base)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "a", active[0].ID)

		// Trailing slash differs: no match.
		active, err = s.GetActive(ctx, AuthorizationCode, "http://localhost/", base)
		require.NoError(t, err)
		assert.Empty(t, active)

		// Case differs: no match.
		active, err = s.GetActive(ctx, AuthorizationCode, "http://LOCALHOST", base)
		require.NoError(t, err)
		assert.Empty(t, active)

		// No filter: both kinds of redirect come back.
		active, err = s.GetActive(ctx, AuthorizationCode, "", base)
		require.NoError(t, err)
		assert.Len(t, active, 2)
	})

	t.Run("delete expired", func(t *testing.T) {
		s := newStore(t)
		base := testBase()

		short := testToken(RefreshToken, "short", base)
		long := testToken(RefreshToken, "long", base)
		long.ValidTo = base.Add(time.Hour)
		for _, tok := range []Token{short, long} {
			_, err := s.Insert(ctx, tok)
			require.NoError(t, err)
		}

		// short's ValidTo <= cutoff, long's is beyond it.
		removed, err := s.DeleteExpired(ctx, RefreshToken, short.ValidTo)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		active, err := s.GetActive(ctx, RefreshToken, "", base)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "long", active[0].ID)
	})

	t.Run("at most once redemption", func(t *testing.T) {
		s := newStore(t)
		base := testBase()

		tok := testToken(AuthorizationCode, "race", base)
		_, err := s.Insert(ctx, tok)
		require.NoError(t, err)

		const redeemers = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < redeemers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				present, err := s.Delete(ctx, tok)
				if !assert.NoError(t, err) {
					return
				}
				if present {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("kinds are isolated", func(t *testing.T) {
		s := newStore(t)
		base := testBase()

		tok := testToken(AccessToken, "shared-id", base)
		_, err := s.Insert(ctx, tok)
		require.NoError(t, err)

		_, err = s.Get(ctx, RefreshToken, "shared-id")
		assert.ErrorIs(t, err, ErrNotFound)

		active, err := s.GetActive(ctx, AuthorizationCode, "", base)
		require.NoError(t, err)
		assert.Empty(t, active)
	})
}

func TestMemoryStoreConformance(t *testing.T) {
	runStoreConformance(t, func(_ *testing.T) Store {
		return NewMemoryStore(zap.NewNop())
	})
}

func TestMemoryStoreClock(t *testing.T) {
	fixed := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore(zap.NewNop(), WithClock(func() time.Time { return fixed }))
	assert.Equal(t, fixed, s.now())
}
