package server

import "time"

// Client records a registered OAuth client. The secret hash is opaque
// output of the password provider; the public key is optional and enables
// signature authentication. LastUsed is UTC and updated on every
// successful authentication.
type Client struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	RedirectURI string    `json:"redirect_uri"`
	Enabled     bool      `json:"enabled"`
	SecretHash  string    `json:"secret_hash"`
	PublicKey   string    `json:"public_key,omitempty"`
	LastUsed    time.Time `json:"last_used"`
}

// ClientKeys carries the material generated at client creation. The secret
// and private key are returned exactly once and never persisted
// server-side.
type ClientKeys struct {
	ClientID   string `json:"client_id"`
	Secret     string `json:"client_secret"`
	PrivateKey string `json:"private_key"`
}
