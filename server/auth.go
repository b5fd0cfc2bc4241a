package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"authzd/crypto"
)

// IdentityError is raised by signature authentication when the request
// itself is malformed: unknown or disabled client, redirect mismatch, or a
// user id that does not match the client id. Cryptographic verification
// failures never raise it; they degrade to the anonymous principal so the
// outcome is indistinguishable from "no such client".
type IdentityError struct {
	Reason string
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("invalid client identity: %s", e.Reason)
}

// Authenticator validates clients under the supported credential schemes
// and produces claims-based principals. All methods are safe for
// concurrent use; the client store is the only shared state.
type Authenticator struct {
	clients    ClientStore
	passwords  crypto.PasswordProvider
	signatures crypto.SignatureProvider
	logger     *zap.Logger
	now        func() time.Time
}

// NewAuthenticator wires the engine to its collaborators.
func NewAuthenticator(clients ClientStore, passwords crypto.PasswordProvider, signatures crypto.SignatureProvider, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		clients:    clients,
		passwords:  passwords,
		signatures: signatures,
		logger:     logger,
		now:        time.Now,
	}
}

// lookupEnabled fetches the client and filters out unknown or disabled
// ones. All schemes share this first gate.
func (a *Authenticator) lookupEnabled(ctx context.Context, clientID string) *Client {
	c, err := a.clients.Get(ctx, clientID)
	if err != nil || !c.Enabled {
		return nil
	}
	return c
}

// finish gates the principal on its own authenticated check, then records
// the successful use. A malformed claim set must not pass as success.
func (a *Authenticator) finish(ctx context.Context, c *Client, p *Principal) *Principal {
	if !p.Authenticated() {
		return Anonymous()
	}
	a.touch(ctx, c)
	return p
}

// touch updates last-used bookkeeping. Best effort: a lost update under a
// concurrent authentication of the same client is acceptable.
func (a *Authenticator) touch(ctx context.Context, c *Client) {
	c.LastUsed = a.now().UTC()
	if err := a.clients.Update(ctx, c.ID, c); err != nil {
		a.logger.Warn("client last-used update failed",
			zap.String("client_id", c.ID),
			zap.Error(err))
	}
}

// AuthenticateClient validates a redirect-bound lookup: the client must
// exist, be enabled, and be bound to exactly the supplied redirect URI.
func (a *Authenticator) AuthenticateClient(ctx context.Context, clientID, redirectURI string) *Principal {
	c := a.lookupEnabled(ctx, clientID)
	if c == nil || c.RedirectURI != redirectURI {
		return Anonymous()
	}

	p := NewPrincipal(MethodClientID,
		Claim{ClaimName, c.Name},
		Claim{ClaimID, c.ID},
		Claim{ClaimRedirectURI, c.RedirectURI},
		Claim{ClaimAuthMethod, MethodClientID},
	)
	return a.finish(ctx, c, p)
}

// AuthenticateClientScopes validates a scoped lookup. No redirect check;
// the requested scopes are recorded space-joined on the principal.
func (a *Authenticator) AuthenticateClientScopes(ctx context.Context, clientID string, scopes []string) *Principal {
	c := a.lookupEnabled(ctx, clientID)
	if c == nil {
		return Anonymous()
	}

	p := NewPrincipal(MethodClientID,
		Claim{ClaimName, c.Name},
		Claim{ClaimID, c.ID},
		Claim{ClaimScope, strings.Join(scopes, " ")},
		Claim{ClaimAuthMethod, MethodClientID},
	)
	return a.finish(ctx, c, p)
}

// AuthenticateBasic validates a Basic digest credential. The digest is
// parsed immediately before use; a malformed digest, unknown client,
// redirect mismatch, or bad password all degrade to anonymous.
func (a *Authenticator) AuthenticateBasic(ctx context.Context, digest string) *Principal {
	d, err := ParseBasicDigest(digest)
	if err != nil {
		return Anonymous()
	}

	c := a.lookupEnabled(ctx, d.UserID)
	if c == nil || c.RedirectURI != d.RedirectURI {
		return Anonymous()
	}
	if !a.passwords.Verify(d.Password, c.SecretHash) {
		return Anonymous()
	}

	p := NewPrincipal(MethodBasic,
		Claim{ClaimName, c.Name},
		Claim{ClaimID, c.ID},
		Claim{ClaimClientID, c.ID},
		Claim{ClaimRedirectURI, c.RedirectURI},
		Claim{ClaimAuthSource, SourceLocal},
		Claim{ClaimAuthMethod, MethodBasic},
	)
	return a.finish(ctx, c, p)
}

// AuthenticateCredentials validates shared-secret client credentials.
func (a *Authenticator) AuthenticateCredentials(ctx context.Context, clientID, clientSecret string) *Principal {
	c := a.lookupEnabled(ctx, clientID)
	if c == nil {
		return Anonymous()
	}
	if !a.passwords.Verify(clientSecret, c.SecretHash) {
		return Anonymous()
	}

	p := NewPrincipal(MethodClientCredentials,
		Claim{ClaimName, c.Name},
		Claim{ClaimID, c.ID},
		Claim{ClaimClientID, c.ID},
		Claim{ClaimRedirectURI, c.RedirectURI},
		Claim{ClaimAuthMethod, MethodClientCredentials},
	)
	return a.finish(ctx, c, p)
}

// AuthenticateSignature validates a signature digest. Identity problems
// are raised as *IdentityError; an absent public key or a signature that
// fails to verify yields the anonymous principal with no error.
func (a *Authenticator) AuthenticateSignature(ctx context.Context, d *SignatureDigest) (*Principal, error) {
	c := a.lookupEnabled(ctx, d.ClientID)
	if c == nil {
		return nil, &IdentityError{Reason: "unknown or disabled client"}
	}
	if c.RedirectURI != d.RedirectURI {
		return nil, &IdentityError{Reason: "redirect URI mismatch"}
	}
	if d.UserID != d.ClientID {
		return nil, &IdentityError{Reason: "user id does not match client id"}
	}

	if c.PublicKey == "" {
		return Anonymous(), nil
	}
	if !a.signatures.Verify(d.Payload, d.Signature, c.PublicKey) {
		return Anonymous(), nil
	}

	p := NewPrincipal(MethodSignature,
		Claim{ClaimName, c.Name},
		Claim{ClaimID, c.ID},
		Claim{ClaimClientID, c.ID},
		Claim{ClaimRedirectURI, c.RedirectURI},
		Claim{ClaimAuthMethod, MethodSignature},
	)
	return a.finish(ctx, c, p), nil
}
