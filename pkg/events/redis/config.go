package redis

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Walrus94/DevCycle-sub001/pkg/config"
)

// Default configuration values.
const (
	DefaultHost         = "localhost"
	DefaultPort         = 6379
	DefaultKeyPrefix    = "lifecycle"
	DefaultStateTTL     = 5 * time.Minute
	DefaultDialTimeout  = 5 * time.Second
	DefaultWriteTimeout = 3 * time.Second

	// DefaultHealthTimeout bounds [Publisher.Health] when the caller's
	// context has no deadline.
	DefaultHealthTimeout = 5 * time.Second
)

// Config holds connection and keyspace settings for the Redis publisher.
// Env tags are relative to the enclosing struct's prefix.
type Config struct {
	// URI is a redis:// or rediss:// URL. When set, Host, Port, DB, and
	// Password are ignored.
	URI string `json:"uri,omitempty" yaml:"uri" env:"URI"`

	Host       string        `json:"host,omitempty" yaml:"host" env:"HOST"`
	Port       int           `json:"port,omitempty" yaml:"port" env:"PORT"`
	DB         int           `json:"db" yaml:"db" env:"DB"`
	Password   config.Secret `json:"-" yaml:"password" env:"PASSWORD"`
	TLSEnabled bool          `json:"tls_enabled,omitempty" yaml:"tls_enabled" env:"TLS_ENABLED"`

	// KeyPrefix namespaces channels and keys: events go to
	// <prefix>:<event_type> and state hashes to <prefix>:agent:<id>.
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix" env:"KEY_PREFIX"`

	// StateTTL is how long an agent's cached state survives without a new
	// transition.
	StateTTL time.Duration `json:"state_ttl,omitempty" yaml:"state_ttl" env:"STATE_TTL"`

	DialTimeout  time.Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

// DefaultConfig returns a Config for a local Redis.
func DefaultConfig() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		KeyPrefix:    DefaultKeyPrefix,
		StateTTL:     DefaultStateTTL,
		DialTimeout:  DefaultDialTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Enabled reports whether a Redis endpoint was configured.
func (c *Config) Enabled() bool {
	return c.URI != "" || c.Host != ""
}

// Validate applies defaults and rejects invalid settings.
func (c *Config) Validate() error {
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if strings.ContainsAny(c.KeyPrefix, " \t\n") {
		return fmt.Errorf("redis: config key_prefix %q must not contain whitespace", c.KeyPrefix)
	}
	if c.StateTTL == 0 {
		c.StateTTL = DefaultStateTTL
	}
	if c.StateTTL < 0 {
		return errors.New("redis: config state_ttl must be positive")
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("redis: config URI is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis: config URI scheme %q must be redis or rediss", u.Scheme)
		}
		return nil
	}

	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("redis: config port must be between 1 and 65535, got %d", c.Port)
	}
	if c.DB < 0 || c.DB > 15 {
		return fmt.Errorf("redis: config db must be between 0 and 15, got %d", c.DB)
	}
	return nil
}
