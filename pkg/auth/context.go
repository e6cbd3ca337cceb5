package auth

import (
	"context"
)

// contextKey is an unexported type used for context keys in this package.
type contextKey int

const identityKey contextKey = iota

// ContextWithIdentity returns a copy of ctx carrying identity.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the identity carried by ctx. It never returns
// a non-nil identity with false.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// MustIdentityFromContext is like IdentityFromContext but panics when ctx
// carries no identity.
func MustIdentityFromContext(ctx context.Context) Identity {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		panic("auth: no identity in context")
	}
	return identity
}
