package config

import "log/slog"

// Secret is a string that does not print. Use it for passwords and access
// keys in configuration structs; the loader fills it like any string.
type Secret string

const redacted = "[REDACTED]"

// String returns a placeholder so secrets stay out of logs and %v output.
func (s Secret) String() string { return redacted }

// GoString keeps %#v redacted too.
func (s Secret) GoString() string { return redacted }

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value { return slog.StringValue(redacted) }

// MarshalText keeps secrets out of encoded configuration dumps.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Value returns the secret itself.
func (s Secret) Value() string { return string(s) }
