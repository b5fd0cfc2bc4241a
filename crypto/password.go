// Package crypto supplies the password-hashing and asymmetric-signature
// providers used by client authentication.
package crypto

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/crypto/bcrypt"
)

const generatedSecretBytes = 32

// PasswordProvider hashes client secrets and verifies them in constant time.
type PasswordProvider interface {
	// Hash returns the salted digest for cleartext at the given work
	// factor. When cleartext is empty a random secret is generated; the
	// secret is returned once for display to the operator and is never
	// recoverable from the digest.
	Hash(cleartext string, cost int) (digest, secret string, err error)

	// Verify reports whether cleartext matches the digest. Malformed
	// digests verify as false, never as an error.
	Verify(cleartext, digest string) bool
}

// BcryptProvider implements PasswordProvider with bcrypt.
type BcryptProvider struct{}

// Hash generates a bcrypt digest, minting a random secret when none is
// supplied.
func (BcryptProvider) Hash(cleartext string, cost int) (string, string, error) {
	if cleartext == "" {
		secret, err := newSecret()
		if err != nil {
			return "", "", err
		}
		cleartext = secret
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(cleartext), cost)
	if err != nil {
		return "", "", err
	}
	return string(digest), cleartext, nil
}

// Verify compares cleartext against the digest in constant time.
func (BcryptProvider) Verify(cleartext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(cleartext)) == nil
}

func newSecret() (string, error) {
	buf := make([]byte, generatedSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
