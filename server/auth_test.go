package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"authzd/crypto"
)

// authFixture is a registered client plus the one-time credentials returned
// at creation.
type authFixture struct {
	store  *InMemoryClientStore
	auth   *Authenticator
	client *Client
	keys   *ClientKeys
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	passwords := crypto.BcryptProvider{}
	signatures := crypto.RSAProvider{Bits: 1024}
	store := NewInMemoryClientStore(passwords, signatures, bcrypt.MinCost)

	c, keys, err := store.Create(context.Background(), "acme", "http://localhost/cb")
	require.NoError(t, err)

	return &authFixture{
		store:  store,
		auth:   NewAuthenticator(store, passwords, signatures, zap.NewNop()),
		client: c,
		keys:   keys,
	}
}

func (f *authFixture) disableClient(t *testing.T) {
	t.Helper()
	c := *f.client
	c.Enabled = false
	require.NoError(t, f.store.Update(context.Background(), c.ID, &c))
}

func TestAuthenticateClient(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	p := f.auth.AuthenticateClient(ctx, f.client.ID, "http://localhost/cb")
	require.True(t, p.Authenticated())
	assert.Equal(t, MethodClientID, p.Scheme)
	assert.Equal(t, "acme", p.ClaimValue(ClaimName))
	assert.Equal(t, f.client.ID, p.ClaimValue(ClaimID))
	assert.Equal(t, "http://localhost/cb", p.ClaimValue(ClaimRedirectURI))
	assert.Equal(t, MethodClientID, p.ClaimValue(ClaimAuthMethod))
}

func TestAuthenticateClientRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown client", func(t *testing.T) {
		f := newAuthFixture(t)
		p := f.auth.AuthenticateClient(ctx, "nope", "http://localhost/cb")
		assert.False(t, p.Authenticated())
	})

	t.Run("disabled client", func(t *testing.T) {
		f := newAuthFixture(t)
		f.disableClient(t)
		p := f.auth.AuthenticateClient(ctx, f.client.ID, "http://localhost/cb")
		assert.False(t, p.Authenticated())
	})

	t.Run("redirect must match exactly", func(t *testing.T) {
		f := newAuthFixture(t)
		for _, uri := range []string{
			"http://localhost/cb/",
			"http://localhost/CB",
			"http://localhost/cb?x=1",
			"http://localhost",
			"",
		} {
			p := f.auth.AuthenticateClient(ctx, f.client.ID, uri)
			assert.False(t, p.Authenticated(), "redirect %q must not match", uri)
		}
	})
}

func TestAuthenticateClientScopes(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	p := f.auth.AuthenticateClientScopes(ctx, f.client.ID, []string{"read", "write"})
	require.True(t, p.Authenticated())
	assert.Equal(t, "read write", p.ClaimValue(ClaimScope))
	assert.Equal(t, "", p.ClaimValue(ClaimRedirectURI))

	p = f.auth.AuthenticateClientScopes(ctx, "nope", []string{"read"})
	assert.False(t, p.Authenticated())

	f.disableClient(t)
	p = f.auth.AuthenticateClientScopes(ctx, f.client.ID, []string{"read"})
	assert.False(t, p.Authenticated())
}

func TestAuthenticateBasic(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	digest := (&BasicDigest{
		UserID:      f.client.ID,
		Password:    f.keys.Secret,
		RedirectURI: "http://localhost/cb",
	}).Encode()

	p := f.auth.AuthenticateBasic(ctx, digest)
	require.True(t, p.Authenticated())
	assert.Equal(t, MethodBasic, p.Scheme)
	assert.Equal(t, f.client.ID, p.ClaimValue(ClaimClientID))
	assert.Equal(t, SourceLocal, p.ClaimValue(ClaimAuthSource))
	assert.Equal(t, MethodBasic, p.ClaimValue(ClaimAuthMethod))
}

func TestAuthenticateBasicRejections(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	cases := []struct {
		name   string
		digest BasicDigest
	}{
		{"wrong password", BasicDigest{f.client.ID, "wrong", "http://localhost/cb"}},
		{"wrong redirect", BasicDigest{f.client.ID, f.keys.Secret, "http://localhost/other"}},
		{"unknown user", BasicDigest{"nope", f.keys.Secret, "http://localhost/cb"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := f.auth.AuthenticateBasic(ctx, tc.digest.Encode())
			assert.False(t, p.Authenticated())
		})
	}

	t.Run("malformed digest", func(t *testing.T) {
		p := f.auth.AuthenticateBasic(ctx, "garbage")
		assert.False(t, p.Authenticated())
	})
}

func TestAuthenticateCredentials(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	p := f.auth.AuthenticateCredentials(ctx, f.client.ID, f.keys.Secret)
	require.True(t, p.Authenticated())
	assert.Equal(t, MethodClientCredentials, p.Scheme)
	assert.Equal(t, MethodClientCredentials, p.ClaimValue(ClaimAuthMethod))

	p = f.auth.AuthenticateCredentials(ctx, f.client.ID, "wrong")
	assert.False(t, p.Authenticated())

	p = f.auth.AuthenticateCredentials(ctx, "nope", f.keys.Secret)
	assert.False(t, p.Authenticated())
}

func TestAuthenticateSignature(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	payload := []byte("request body")
	sig, err := crypto.RSAProvider{}.Sign(payload, f.keys.PrivateKey)
	require.NoError(t, err)

	p, err := f.auth.AuthenticateSignature(ctx, &SignatureDigest{
		ClientID:    f.client.ID,
		UserID:      f.client.ID,
		RedirectURI: "http://localhost/cb",
		Payload:     payload,
		Signature:   sig,
	})
	require.NoError(t, err)
	require.True(t, p.Authenticated())
	assert.Equal(t, MethodSignature, p.Scheme)
	assert.Equal(t, f.client.ID, p.ClaimValue(ClaimClientID))
}

func TestAuthenticateSignatureIdentityFaults(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown client", func(t *testing.T) {
		f := newAuthFixture(t)
		_, err := f.auth.AuthenticateSignature(ctx, &SignatureDigest{
			ClientID: "nope", UserID: "nope", RedirectURI: "http://localhost/cb",
		})
		var ierr *IdentityError
		require.ErrorAs(t, err, &ierr)
	})

	t.Run("disabled client", func(t *testing.T) {
		f := newAuthFixture(t)
		f.disableClient(t)
		_, err := f.auth.AuthenticateSignature(ctx, &SignatureDigest{
			ClientID: f.client.ID, UserID: f.client.ID, RedirectURI: "http://localhost/cb",
		})
		var ierr *IdentityError
		require.ErrorAs(t, err, &ierr)
	})

	t.Run("redirect mismatch", func(t *testing.T) {
		f := newAuthFixture(t)
		_, err := f.auth.AuthenticateSignature(ctx, &SignatureDigest{
			ClientID: f.client.ID, UserID: f.client.ID, RedirectURI: "http://localhost/other",
		})
		var ierr *IdentityError
		require.ErrorAs(t, err, &ierr)
	})

	t.Run("user id differs from client id", func(t *testing.T) {
		f := newAuthFixture(t)
		_, err := f.auth.AuthenticateSignature(ctx, &SignatureDigest{
			ClientID: f.client.ID, UserID: "someone-else", RedirectURI: "http://localhost/cb",
		})
		var ierr *IdentityError
		require.ErrorAs(t, err, &ierr)
	})
}

func TestAuthenticateSignatureDegradesToAnonymous(t *testing.T) {
	ctx := context.Background()

	t.Run("no public key on record", func(t *testing.T) {
		f := newAuthFixture(t)
		c := *f.client
		c.PublicKey = ""
		require.NoError(t, f.store.Update(ctx, c.ID, &c))

		p, err := f.auth.AuthenticateSignature(ctx, &SignatureDigest{
			ClientID: f.client.ID, UserID: f.client.ID, RedirectURI: "http://localhost/cb",
			Payload: []byte("x"), Signature: []byte("y"),
		})
		require.NoError(t, err)
		assert.False(t, p.Authenticated())
	})

	t.Run("signature does not verify", func(t *testing.T) {
		f := newAuthFixture(t)
		p, err := f.auth.AuthenticateSignature(ctx, &SignatureDigest{
			ClientID: f.client.ID, UserID: f.client.ID, RedirectURI: "http://localhost/cb",
			Payload: []byte("payload"), Signature: []byte("not a signature"),
		})
		require.NoError(t, err)
		assert.False(t, p.Authenticated())
	})
}

func TestAuthenticationUpdatesLastUsed(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	used := time.Date(2030, 3, 1, 9, 0, 0, 0, time.UTC)
	f.auth.now = func() time.Time { return used }

	p := f.auth.AuthenticateCredentials(ctx, f.client.ID, f.keys.Secret)
	require.True(t, p.Authenticated())

	got, err := f.store.Get(ctx, f.client.ID)
	require.NoError(t, err)
	assert.True(t, got.LastUsed.Equal(used))
}

func TestFailedAuthenticationLeavesLastUsed(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	before, err := f.store.Get(ctx, f.client.ID)
	require.NoError(t, err)

	f.auth.now = func() time.Time { return time.Date(2030, 3, 1, 9, 0, 0, 0, time.UTC) }
	p := f.auth.AuthenticateCredentials(ctx, f.client.ID, "wrong")
	assert.False(t, p.Authenticated())

	after, err := f.store.Get(ctx, f.client.ID)
	require.NoError(t, err)
	assert.True(t, after.LastUsed.Equal(before.LastUsed))
}
