package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Walrus94/DevCycle-sub001/internal/testutil"
	sserr "github.com/Walrus94/DevCycle-sub001/pkg/errors"
)

// ===========================================================================
// Test Types
// ===========================================================================

type storeConfig struct {
	Path     string        `env:"PATH" envDefault:"lifecycle.db" yaml:"path" json:"path"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"5s" yaml:"timeout" json:"timeout"`
	Password Secret        `env:"PASSWORD" yaml:"password" json:"password"`
}

type appConfig struct {
	Name     string      `env:"NAME" required:"true" yaml:"name" json:"name"`
	Debug    bool        `env:"DEBUG" envDefault:"false" yaml:"debug" json:"debug"`
	Workers  int32       `env:"WORKERS" envDefault:"4" yaml:"workers" json:"workers"`
	TTL      uint        `env:"TTL" envDefault:"30" yaml:"ttl" json:"ttl"`
	Ratio    float64     `env:"RATIO" envDefault:"0.5" yaml:"ratio" json:"ratio"`
	Channels []string    `env:"CHANNELS" envDefault:"pre, post" yaml:"channels" json:"channels"`
	Store    storeConfig `env:"STORE" yaml:"store" json:"store"`
}

type rangedConfig struct {
	Port int `env:"PORT" envDefault:"0"`
}

func (c *rangedConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return sserr.Newf(sserr.CodeValidation, "config: port %d out of range", c.Port)
	}
	return nil
}

type plainValidatorConfig struct {
	Name string `env:"NAME"`
}

func (c *plainValidatorConfig) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

// envMap returns a lookup function backed by m.
func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

// ===========================================================================
// Load Tests
// ===========================================================================

// TestLoad_RejectsNonStructPointer verifies argument checking.
func TestLoad_RejectsNonStructPointer(t *testing.T) {
	t.Parallel()

	var nilCfg *appConfig
	n := 1
	for _, arg := range []any{nil, appConfig{}, nilCfg, &n} {
		err := New().Load(arg)
		assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration), "Load(%T)", arg)
	}
}

// TestLoad_Defaults verifies every supported kind is parsed from
// envDefault.
func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	var cfg appConfig
	err := New().WithLookup(envMap(map[string]string{"NAME": "svc"})).Load(&cfg)
	require.NoError(t, err)

	assert.Equal(t, "svc", cfg.Name)
	assert.False(t, cfg.Debug)
	assert.Equal(t, int32(4), cfg.Workers)
	assert.Equal(t, uint(30), cfg.TTL)
	assert.InDelta(t, 0.5, cfg.Ratio, 1e-9)
	assert.Equal(t, []string{"pre", "post"}, cfg.Channels)
	assert.Equal(t, "lifecycle.db", cfg.Store.Path)
	assert.Equal(t, 5*time.Second, cfg.Store.Timeout)
}

// TestLoad_PriorityOrder verifies default < file < env.
func TestLoad_PriorityOrder(t *testing.T) {
	t.Parallel()

	path := testutil.TempFile(t, "config.yaml", `
name: from-file
workers: 8
store:
  path: /var/lib/file.db
  timeout: 10s
`)
	env := envMap(map[string]string{
		"APP_WORKERS":    "16",
		"APP_STORE_PATH": "/var/lib/env.db",
		"APP_DEBUG":      "true",
	})

	var cfg appConfig
	require.NoError(t, New().WithEnvPrefix("app").WithFile(path).WithLookup(env).Load(&cfg))

	assert.Equal(t, "from-file", cfg.Name)
	assert.Equal(t, int32(16), cfg.Workers)
	assert.Equal(t, "/var/lib/env.db", cfg.Store.Path)
	assert.Equal(t, 10*time.Second, cfg.Store.Timeout)
	assert.True(t, cfg.Debug)
}

// TestLoad_JSONFile verifies JSON file loading.
func TestLoad_JSONFile(t *testing.T) {
	t.Parallel()

	path := testutil.TempFile(t, "config.json", `{"name": "json", "store": {"path": "j.db"}}`)
	var cfg appConfig
	require.NoError(t, New().WithFile(path).WithLookup(envMap(nil)).Load(&cfg))
	assert.Equal(t, "json", cfg.Name)
	assert.Equal(t, "j.db", cfg.Store.Path)
}

// TestLoad_FileErrors verifies missing, unsupported, traversal, and
// malformed files.
func TestLoad_FileErrors(t *testing.T) {
	t.Parallel()

	env := envMap(map[string]string{"NAME": "svc"})

	var cfg appConfig
	assert.NoError(t, New().WithFile(filepath.Join(t.TempDir(), "missing.yaml")).WithLookup(env).Load(&cfg))

	for _, path := range []string{
		testutil.TempFile(t, "config.toml", "name = 'x'"),
		"../etc/config.yaml",
		testutil.TempFile(t, "bad.yaml", "name: [unterminated"),
		testutil.TempFile(t, "bad.json", "{"),
	} {
		err := New().WithFile(path).WithLookup(env).Load(&appConfig{})
		assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration), "path %q: %v", path, err)
	}
}

// TestLoad_BadEnvValues verifies parse failures are configuration errors.
func TestLoad_BadEnvValues(t *testing.T) {
	t.Parallel()

	for key, val := range map[string]string{
		"DEBUG":         "maybe",
		"WORKERS":       "many",
		"TTL":           "-1",
		"RATIO":         "half",
		"STORE_TIMEOUT": "soon",
	} {
		env := envMap(map[string]string{"NAME": "svc", key: val})
		err := New().WithLookup(env).Load(&appConfig{})
		assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration), "%s=%s: %v", key, val, err)
		assert.Contains(t, err.Error(), key)
	}
}

// TestLoad_Required verifies required fields.
func TestLoad_Required(t *testing.T) {
	t.Parallel()

	err := New().WithLookup(envMap(nil)).Load(&appConfig{})
	require.Error(t, err)
	testutil.RequireErrorCode(t, err, sserr.CodeValidationRequired)
	assert.Contains(t, err.Error(), `"Name"`)
}

// TestLoad_Validator verifies custom validation and error wrapping.
func TestLoad_Validator(t *testing.T) {
	t.Parallel()

	err := New().WithLookup(envMap(nil)).Load(&rangedConfig{})
	assert.True(t, sserr.HasCode(err, sserr.CodeValidation))

	var ok rangedConfig
	require.NoError(t, New().WithLookup(envMap(map[string]string{"PORT": "5432"})).Load(&ok))
	assert.Equal(t, 5432, ok.Port)

	err = New().WithLookup(envMap(nil)).Load(&plainValidatorConfig{})
	e, isStructured := sserr.AsError(err)
	require.True(t, isStructured)
	assert.Equal(t, sserr.CodeValidation, e.Code)
	assert.EqualError(t, e.Cause, "name is required")
}

// TestLoad_UsesProcessEnvironment verifies the default lookup reads the
// real environment.
func TestLoad_UsesProcessEnvironment(t *testing.T) {
	t.Setenv("CFGTEST_NAME", "from-env")

	var cfg appConfig
	require.NoError(t, New().WithEnvPrefix("CFGTEST").Load(&cfg))
	assert.Equal(t, "from-env", cfg.Name)
}

// TestMustLoad verifies success and panic paths.
func TestMustLoad(t *testing.T) {
	t.Parallel()

	cfg := MustLoad[appConfig](New().WithLookup(envMap(map[string]string{"NAME": "svc"})))
	assert.Equal(t, "svc", cfg.Name)

	assert.Panics(t, func() { MustLoad[appConfig](New().WithLookup(envMap(nil))) })
}

// ===========================================================================
// Secret Tests
// ===========================================================================

// TestSecret_Redacted verifies that secrets never print.
func TestSecret_Redacted(t *testing.T) {
	t.Parallel()

	s := Secret("hunter2")
	assert.Equal(t, "hunter2", s.Value())
	for _, out := range []string{
		s.String(),
		fmt.Sprintf("%v", s),
		fmt.Sprintf("%s", s),
		fmt.Sprintf("%#v", s),
		fmt.Sprintf("%+v", storeConfig{Password: s}),
	} {
		assert.NotContains(t, out, "hunter2")
	}

	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("cfg", "password", s)
	assert.NotContains(t, buf.String(), "hunter2")
	assert.Contains(t, buf.String(), "[REDACTED]")

	testutil.AssertJSONNotContains(t, storeConfig{Password: s}, "hunter2")
}
