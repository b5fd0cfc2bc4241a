package storage

import (
	"errors"
	"time"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// Prefixes holds the key prefix for each token kind. The prefix doubles as
// the name of the kind's expiry index.
type Prefixes struct {
	Code    string `yaml:"code"`
	Access  string `yaml:"access"`
	Refresh string `yaml:"refresh"`
}

// DefaultPrefixes returns the conventional key prefixes.
func DefaultPrefixes() Prefixes {
	return Prefixes{Code: "authcode", Access: "access", Refresh: "refresh"}
}

// For resolves the prefix of a token kind.
func (p Prefixes) For(kind Kind) string {
	switch kind {
	case AuthorizationCode:
		return p.Code
	case AccessToken:
		return p.Access
	case RefreshToken:
		return p.Refresh
	}
	return string(kind)
}

// RedisConfig holds connection settings for the networked backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	Prefixes Prefixes `yaml:"prefixes"`

	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

func (c *RedisConfig) applyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Prefixes == (Prefixes{}) {
		c.Prefixes = DefaultPrefixes()
	}
}

func (c *RedisConfig) validate() error {
	if c.Addr == "" {
		return errors.New("redis address is required")
	}
	if c.Prefixes.Code == "" || c.Prefixes.Access == "" || c.Prefixes.Refresh == "" {
		return errors.New("all token key prefixes are required")
	}
	return nil
}
