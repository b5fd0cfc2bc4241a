// Package server implements the client authentication engine, client
// stores, token issuance, and the HTTP endpoints that expose them.
package server

// ClaimType names a fact carried by a principal. The vocabulary is fixed.
type ClaimType string

// Claim vocabulary.
const (
	ClaimName        ClaimType = "name"
	ClaimID          ClaimType = "id"
	ClaimRedirectURI ClaimType = "redirect_uri"
	ClaimClientID    ClaimType = "client_id"
	ClaimScope       ClaimType = "scope"
	ClaimAuthMethod  ClaimType = "auth_method"
	ClaimAuthSource  ClaimType = "auth_source"
)

// Authentication methods recorded in the auth_method claim, plus the local
// auth source tag.
const (
	MethodClientID          = "client_id"
	MethodBasic             = "basic"
	MethodClientCredentials = "client_credentials"
	MethodSignature         = "signature"

	SourceLocal = "local"
)

// Claim is one typed key/value fact about a principal.
type Claim struct {
	Type  ClaimType
	Value string
}

// Principal is an authenticated identity: the scheme that produced it plus
// an ordered claim set. Principals are passed explicitly through call
// chains, never held in ambient state.
type Principal struct {
	Scheme string
	Claims []Claim
}

// Anonymous returns the canonical unauthenticated principal. Failed
// authentications yield this value rather than nil.
func Anonymous() *Principal {
	return &Principal{}
}

// NewPrincipal builds a principal for the scheme with the given claims.
func NewPrincipal(scheme string, claims ...Claim) *Principal {
	return &Principal{Scheme: scheme, Claims: claims}
}

// ClaimValue returns the first claim of the type, or "".
func (p *Principal) ClaimValue(t ClaimType) string {
	for _, c := range p.Claims {
		if c.Type == t {
			return c.Value
		}
	}
	return ""
}

// Authenticated reports whether the principal carries well-formed identity
// claims: at minimum a non-empty name and identifier.
func (p *Principal) Authenticated() bool {
	return p.ClaimValue(ClaimName) != "" && p.ClaimValue(ClaimID) != ""
}
