package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"authzd/crypto"
)

// ErrClientNotFound is returned when no client has the given identifier.
var ErrClientNotFound = errors.New("client not found")

// clientKeyPrefix namespaces client records in the networked store.
const clientKeyPrefix = "client"

// ClientStore provides CRUD access to client records, keyed by client
// identifier.
type ClientStore interface {
	// Create registers a new enabled client, generating its identifier,
	// a secret, and a signing key pair. The secret and private key are
	// returned once in ClientKeys and cannot be retrieved again.
	Create(ctx context.Context, name, redirectURI string) (*Client, *ClientKeys, error)

	// Get returns the client by identifier or ErrClientNotFound.
	Get(ctx context.Context, id string) (*Client, error)

	// Update replaces the stored record for id.
	Update(ctx context.Context, id string, c *Client) error
}

// clientFactory builds new client records with generated credentials. It
// is shared by both store implementations.
type clientFactory struct {
	passwords  crypto.PasswordProvider
	signatures crypto.SignatureProvider
	cost       int
	now        func() time.Time
}

func (f *clientFactory) newClient(name, redirectURI string) (*Client, *ClientKeys, error) {
	hash, secret, err := f.passwords.Hash("", f.cost)
	if err != nil {
		return nil, nil, fmt.Errorf("generate client secret: %w", err)
	}
	pub, priv, err := f.signatures.GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("generate client key pair: %w", err)
	}

	c := &Client{
		ID:          uuid.NewString(),
		Name:        name,
		RedirectURI: redirectURI,
		Enabled:     true,
		SecretHash:  hash,
		PublicKey:   pub,
		LastUsed:    f.now().UTC(),
	}
	keys := &ClientKeys{ClientID: c.ID, Secret: secret, PrivateKey: priv}
	return c, keys, nil
}

// InMemoryClientStore keeps client records in a process-local map.
type InMemoryClientStore struct {
	mu      sync.RWMutex
	clients map[string]Client
	factory clientFactory
}

// NewInMemoryClientStore constructs an empty store using the given crypto
// providers for credential generation.
func NewInMemoryClientStore(passwords crypto.PasswordProvider, signatures crypto.SignatureProvider, cost int) *InMemoryClientStore {
	return &InMemoryClientStore{
		clients: make(map[string]Client),
		factory: clientFactory{passwords: passwords, signatures: signatures, cost: cost, now: time.Now},
	}
}

// Create registers a new client with generated credentials.
func (s *InMemoryClientStore) Create(_ context.Context, name, redirectURI string) (*Client, *ClientKeys, error) {
	c, keys, err := s.factory.newClient(name, redirectURI)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	s.clients[c.ID] = *c
	s.mu.Unlock()
	return c, keys, nil
}

// Get retrieves a copy of the client record.
func (s *InMemoryClientStore) Get(_ context.Context, id string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	return &c, nil
}

// Update replaces the stored record.
func (s *InMemoryClientStore) Update(_ context.Context, id string, c *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[id]; !ok {
		return ErrClientNotFound
	}
	updated := *c
	updated.ID = id
	s.clients[id] = updated
	return nil
}

// RedisClientStore persists client records as JSON in the shared
// key-value store so multiple processes see the same registry.
type RedisClientStore struct {
	client  redis.UniversalClient
	factory clientFactory
}

// NewRedisClientStore wraps an established connection.
func NewRedisClientStore(client redis.UniversalClient, passwords crypto.PasswordProvider, signatures crypto.SignatureProvider, cost int) *RedisClientStore {
	return &RedisClientStore{
		client:  client,
		factory: clientFactory{passwords: passwords, signatures: signatures, cost: cost, now: time.Now},
	}
}

func clientKey(id string) string {
	return clientKeyPrefix + ":" + id
}

// Create registers a new client with generated credentials.
func (s *RedisClientStore) Create(ctx context.Context, name, redirectURI string) (*Client, *ClientKeys, error) {
	c, keys, err := s.factory.newClient(name, redirectURI)
	if err != nil {
		return nil, nil, err
	}

	data, err := json.Marshal(c)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal client: %w", err)
	}
	if err := s.client.Set(ctx, clientKey(c.ID), data, 0).Err(); err != nil {
		return nil, nil, fmt.Errorf("store client: %w", err)
	}
	return c, keys, nil
}

// Get retrieves the client record.
func (s *RedisClientStore) Get(ctx context.Context, id string) (*Client, error) {
	data, err := s.client.Get(ctx, clientKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("get client: %w", err)
	}

	var c Client
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal client: %w", err)
	}
	return &c, nil
}

// Update replaces the stored record for an existing client.
func (s *RedisClientStore) Update(ctx context.Context, id string, c *Client) error {
	exists, err := s.client.Exists(ctx, clientKey(id)).Result()
	if err != nil {
		return fmt.Errorf("check client: %w", err)
	}
	if exists == 0 {
		return ErrClientNotFound
	}

	updated := *c
	updated.ID = id
	data, err := json.Marshal(&updated)
	if err != nil {
		return fmt.Errorf("marshal client: %w", err)
	}
	return s.client.Set(ctx, clientKey(id), data, 0).Err()
}

var (
	_ ClientStore = (*InMemoryClientStore)(nil)
	_ ClientStore = (*RedisClientStore)(nil)
)
