package server

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"authzd/storage"
)

// Hardcoded token defaults.
const (
	DefaultCodeTTL    = 60 * time.Second
	DefaultAccessTTL  = 10 * time.Minute
	DefaultRefreshTTL = 24 * time.Hour
	DefaultBcryptCost = 10
)

// Storage backend selectors.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config captures the full application configuration loaded from YAML.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Tokens  TokenConfig   `yaml:"tokens"`
	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Keys    KeyConfig     `yaml:"keys"`
}

// ServerConfig controls the listener and issuer identity.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	PublicURL  string `yaml:"public_url"`
}

// TokenConfig sets lifetimes per token kind.
type TokenConfig struct {
	CodeTTL    time.Duration `yaml:"code_ttl"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
}

// AuthConfig tunes credential hashing.
type AuthConfig struct {
	BcryptCost int `yaml:"bcrypt_cost"`
}

// StorageConfig selects and configures the token repository backend.
type StorageConfig struct {
	Backend string              `yaml:"backend"`
	Redis   storage.RedisConfig `yaml:"redis"`
}

// KeyConfig locates the persisted signing key set.
type KeyConfig struct {
	JWKSPath string `yaml:"jwks_path"`
}

// Load reads and validates a YAML config file.
func Load(path string) (Config, error) {
	var cfg Config

	payload, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(payload, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with the hardcoded defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.PublicURL == "" {
		c.Server.PublicURL = "http://localhost:8080"
	}
	c.Server.PublicURL = strings.TrimSuffix(c.Server.PublicURL, "/")

	if c.Tokens.CodeTTL == 0 {
		c.Tokens.CodeTTL = DefaultCodeTTL
	}
	if c.Tokens.AccessTTL == 0 {
		c.Tokens.AccessTTL = DefaultAccessTTL
	}
	if c.Tokens.RefreshTTL == 0 {
		c.Tokens.RefreshTTL = DefaultRefreshTTL
	}
	if c.Auth.BcryptCost == 0 {
		c.Auth.BcryptCost = DefaultBcryptCost
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemory
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			return errors.New("storage.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Tokens.CodeTTL < 0 || c.Tokens.AccessTTL < 0 || c.Tokens.RefreshTTL < 0 {
		return errors.New("token lifetimes must be positive")
	}
	return nil
}
