package crypto

import (
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

const defaultKeyBits = 2048

// SignatureProvider generates key pairs and signs/verifies arbitrary byte
// payloads. Keys travel as PEM strings that callers treat opaquely.
type SignatureProvider interface {
	GenerateKeyPair() (publicPEM, privatePEM string, err error)
	Sign(payload []byte, privatePEM string) ([]byte, error)
	// Verify reports whether sig is a valid signature of payload under
	// the public key. Malformed keys or signatures verify as false.
	Verify(payload, sig []byte, publicPEM string) bool
}

// RSAProvider implements SignatureProvider with RSA SHA-256 PKCS#1 v1.5.
type RSAProvider struct {
	// Bits is the key size; zero means 2048.
	Bits int
}

// GenerateKeyPair mints a fresh key pair encoded as PKIX/PKCS#8 PEM.
func (p RSAProvider) GenerateKeyPair() (string, string, error) {
	bits := p.Bits
	if bits == 0 {
		bits = defaultKeyBits
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return "", "", fmt.Errorf("generate rsa key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("encode public key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("encode private key: %w", err)
	}

	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	return string(pubPEM), string(privPEM), nil
}

// Sign produces a SHA-256 PKCS#1 v1.5 signature over payload.
func (RSAProvider) Sign(payload []byte, privatePEM string) ([]byte, error) {
	key, err := parsePrivateKey(privatePEM)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(payload)
	return rsa.SignPKCS1v15(rand.Reader, key, stdcrypto.SHA256, sum[:])
}

// Verify checks the signature against the PEM-encoded public key.
func (RSAProvider) Verify(payload, sig []byte, publicPEM string) bool {
	key, err := parsePublicKey(publicPEM)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(payload)
	return rsa.VerifyPKCS1v15(key, stdcrypto.SHA256, sum[:], sig) == nil
}

func parsePrivateKey(privatePEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return nil, errors.New("no PEM block in private key")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

func parsePublicKey(publicPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicPEM))
	if block == nil {
		return nil, errors.New("no PEM block in public key")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}
