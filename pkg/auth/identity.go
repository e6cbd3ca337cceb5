// Package auth carries the identity of whoever initiated a lifecycle
// operation. Callers attach an [Identity] to the context with
// [ContextWithIdentity]; the lifecycle package reads it back to attribute
// transitions ("user:alice", "agent:<id>") and to classify event sources.
//
// Authenticating the identity is the caller's job. This package only
// transports it.
package auth

import (
	"maps"
	"strings"
)

// IdentityType is the kind of entity that initiated an operation.
type IdentityType string

const (
	// IdentityTypeUser is a human operator.
	IdentityTypeUser IdentityType = "user"

	// IdentityTypeService is another platform service acting without a
	// human in the loop, such as a scheduler or deployment controller.
	IdentityTypeService IdentityType = "service"

	// IdentityTypeAgent is an agent acting on its own lifecycle, for
	// example reporting an error.
	IdentityTypeAgent IdentityType = "agent"

	// IdentityTypeSystem is an internal process of this module.
	IdentityTypeSystem IdentityType = "system"
)

// String returns the string representation of the identity type.
func (t IdentityType) String() string {
	return string(t)
}

// Valid reports whether the identity type is one of the recognized values.
func (t IdentityType) Valid() bool {
	switch t {
	case IdentityTypeUser, IdentityTypeService, IdentityTypeAgent, IdentityTypeSystem:
		return true
	default:
		return false
	}
}

// Identity is an entity on whose behalf an operation runs.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Identity interface {
	// ID returns the unique identifier of the identity.
	ID() string

	// Type returns the kind of identity.
	Type() IdentityType

	// Claims returns a copy of the identity's attributes.
	Claims() map[string]any
}

// BasicIdentity is an immutable [Identity].
type BasicIdentity struct {
	id     string
	idType IdentityType
	claims map[string]any
}

var _ Identity = (*BasicIdentity)(nil)

// NewBasicIdentity creates a BasicIdentity. The claims map is copied.
func NewBasicIdentity(id string, idType IdentityType, claims map[string]any) *BasicIdentity {
	copied := make(map[string]any, len(claims))
	maps.Copy(copied, claims)
	return &BasicIdentity{
		id:     id,
		idType: idType,
		claims: copied,
	}
}

// ID returns the unique identifier of the identity.
func (b *BasicIdentity) ID() string {
	return b.id
}

// Type returns the identity type.
func (b *BasicIdentity) Type() IdentityType {
	return b.idType
}

// Claims returns a shallow copy of the identity's claims.
func (b *BasicIdentity) Claims() map[string]any {
	copied := make(map[string]any, len(b.claims))
	maps.Copy(copied, b.claims)
	return copied
}

// ParseIdentity parses the "<type>:<id>" form written to transition
// records. It reports false for malformed input or an unknown type.
func ParseIdentity(s string) (*BasicIdentity, bool) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || id == "" || !IdentityType(typ).Valid() {
		return nil, false
	}
	return NewBasicIdentity(id, IdentityType(typ), nil), true
}

// Format returns the "<type>:<id>" form of identity.
func Format(identity Identity) string {
	return identity.Type().String() + ":" + identity.ID()
}
