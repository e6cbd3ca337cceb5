package archive

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Walrus94/DevCycle-sub001/pkg/config"
)

// Default configuration values.
const (
	DefaultEndpoint = "localhost:9000"
	DefaultRegion   = "us-east-1"
	DefaultBucket   = "lifecycle-archive"
	DefaultPrefix   = "history"
)

// Config holds MinIO connection and placement settings for archived
// histories. Env tags are relative to the enclosing struct's prefix.
type Config struct {
	// Endpoint is host:port without a scheme.
	Endpoint  string        `json:"endpoint,omitempty" yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string        `json:"access_key,omitempty" yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey config.Secret `json:"-" yaml:"secret_key" env:"SECRET_KEY"`
	Region    string        `json:"region,omitempty" yaml:"region" env:"REGION"`
	UseSSL    bool          `json:"use_ssl,omitempty" yaml:"use_ssl" env:"USE_SSL"`

	// Bucket receives one object per deleted agent. It is created on first
	// use.
	Bucket string `json:"bucket,omitempty" yaml:"bucket" env:"BUCKET"`

	// Prefix is prepended to object names: <prefix>/<agent_id>.json.
	Prefix string `json:"prefix,omitempty" yaml:"prefix" env:"PREFIX"`
}

// DefaultConfig returns a Config for a local MinIO.
func DefaultConfig() *Config {
	return &Config{
		Endpoint: DefaultEndpoint,
		Region:   DefaultRegion,
		Bucket:   DefaultBucket,
		Prefix:   DefaultPrefix,
	}
}

// Enabled reports whether an endpoint was configured.
func (c *Config) Enabled() bool {
	return c.Endpoint != ""
}

// Validate applies defaults and rejects invalid settings.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("archive: config endpoint %q must not include a scheme", c.Endpoint)
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.Bucket == "" {
		c.Bucket = DefaultBucket
	}
	if len(c.Bucket) < 3 || len(c.Bucket) > 63 || strings.ToLower(c.Bucket) != c.Bucket {
		return fmt.Errorf("archive: config bucket %q must be 3-63 lowercase characters", c.Bucket)
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	c.Prefix = strings.Trim(c.Prefix, "/")
	if strings.Contains(c.Prefix, "..") {
		return errors.New("archive: config prefix must not contain '..'")
	}
	return nil
}
