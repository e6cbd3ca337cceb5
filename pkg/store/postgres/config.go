package postgres

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Walrus94/DevCycle-sub001/pkg/config"
)

// Default configuration values.
const (
	DefaultHost           = "localhost"
	DefaultPort           = 5432
	DefaultDatabase       = "lifecycle"
	DefaultUser           = "postgres"
	DefaultSSLMode        = "prefer"
	DefaultMaxConns       = int32(10)
	DefaultMinConns       = int32(1)
	DefaultConnectTimeout = 10 * time.Second

	// DefaultHealthTimeout bounds [Store.Health] when the caller's context
	// has no deadline.
	DefaultHealthTimeout = 5 * time.Second
)

var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Config holds connection settings for the lifecycle store. The env tags are
// relative; embed Config in an application struct under a prefix tag such
// as `env:"POSTGRES"` to read LIFECYCLE_POSTGRES_HOST and friends.
type Config struct {
	// URI is a full connection string. When set, the structured fields are
	// ignored.
	URI string `json:"uri,omitempty" yaml:"uri" env:"URI"`

	Host     string        `json:"host,omitempty" yaml:"host" env:"HOST"`
	Port     int           `json:"port,omitempty" yaml:"port" env:"PORT"`
	Database string        `json:"database,omitempty" yaml:"database" env:"DATABASE"`
	User     string        `json:"user,omitempty" yaml:"user" env:"USER"`
	Password config.Secret `json:"-" yaml:"password" env:"PASSWORD"`
	SSLMode  string        `json:"ssl_mode,omitempty" yaml:"ssl_mode" env:"SSLMODE"`

	MaxConns       int32         `json:"max_conns,omitempty" yaml:"max_conns" env:"MAX_CONNS"`
	MinConns       int32         `json:"min_conns,omitempty" yaml:"min_conns" env:"MIN_CONNS"`
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty" yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// DefaultConfig returns a Config pointing at a local database.
func DefaultConfig() *Config {
	return &Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		Database:       DefaultDatabase,
		User:           DefaultUser,
		SSLMode:        DefaultSSLMode,
		MaxConns:       DefaultMaxConns,
		MinConns:       DefaultMinConns,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// Enabled reports whether any connection setting was provided. An empty
// Config means the application runs without a Postgres store.
func (c *Config) Enabled() bool {
	return c.URI != "" || c.Host != ""
}

// Validate applies defaults for zero-valued fields and rejects invalid
// settings.
func (c *Config) Validate() error {
	if c.MaxConns == 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.MinConns == 0 {
		c.MinConns = DefaultMinConns
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.MaxConns < c.MinConns {
		return fmt.Errorf("postgres: config max_conns (%d) must be >= min_conns (%d)", c.MaxConns, c.MinConns)
	}

	if c.URI != "" {
		if _, err := url.Parse(c.URI); err != nil {
			return fmt.Errorf("postgres: config URI is invalid: %w", err)
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
		return fmt.Errorf("postgres: config port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Database == "" {
		return errors.New("postgres: config database must not be empty")
	}
	if c.User == "" {
		return errors.New("postgres: config user must not be empty")
	}
	if c.SSLMode == "" {
		c.SSLMode = DefaultSSLMode
	}
	if !validSSLModes[c.SSLMode] {
		return fmt.Errorf("postgres: config ssl_mode %q is not valid", c.SSLMode)
	}
	return nil
}

// ConnectionString returns URI when set, otherwise a postgres:// URL built
// from the structured fields. The result contains the password in
// cleartext.
func (c *Config) ConnectionString() string {
	if c.URI != "" {
		return c.URI
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password.Value()),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Database,
	}
	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}
