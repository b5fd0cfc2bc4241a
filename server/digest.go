package server

import (
	"encoding/base64"
	"errors"
	"strings"
)

// BasicDigest is the transient credential parsed from a Basic digest
// header: an obfuscated payload carrying user id, password, and the
// redirect URI the client claims to be bound to. It is built immediately
// before use and discarded.
type BasicDigest struct {
	UserID      string
	Password    string
	RedirectURI string
}

// ParseBasicDigest decodes a digest of the form
// base64(user_id:password:redirect_uri). The redirect URI may itself
// contain colons; the password may not. An optional "Basic " prefix is
// tolerated so raw Authorization header values can be passed through.
func ParseBasicDigest(raw string) (*BasicDigest, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "Basic ")
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.New("basic digest is not valid base64")
	}

	parts := strings.SplitN(string(decoded), ":", 3)
	if len(parts) != 3 || parts[0] == "" {
		return nil, errors.New("basic digest payload is malformed")
	}

	return &BasicDigest{
		UserID:      parts[0],
		Password:    parts[1],
		RedirectURI: parts[2],
	}, nil
}

// Encode produces the wire form of the digest.
func (d *BasicDigest) Encode() string {
	payload := d.UserID + ":" + d.Password + ":" + d.RedirectURI
	return base64.StdEncoding.EncodeToString([]byte(payload))
}

// SignatureDigest is the transient credential for signature
// authentication: the identifiers being asserted, an arbitrary signed
// payload, and the signature value.
type SignatureDigest struct {
	ClientID    string
	UserID      string
	RedirectURI string
	Payload     []byte
	Signature   []byte
}

// DecodeSignature decodes a base64 signature value from transport form.
func DecodeSignature(raw string) ([]byte, error) {
	sig, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.New("signature is not valid base64")
	}
	return sig, nil
}
