// Package auth carries the identity of the caller through the context so that
// lifecycle operations and audit events can be attributed to a principal.
package auth

import "context"

// contextKey is an unexported type for context keys.
type contextKey int

const principalContextKey contextKey = iota

// Principal represents the entity performing an action (a user, a module,
// the system bootstrap).
type Principal interface {
	// ID returns a unique identifier for the principal.
	ID() string
	// Type returns the type of the principal (e.g. "user", "module", "system").
	Type() string
}

// PrincipalFromContext retrieves the Principal from the given context.
// Returns nil if no Principal is found.
func PrincipalFromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalContextKey).(Principal); ok {
		return p
	}
	return nil
}

// ContextWithPrincipal returns a new context with the given Principal embedded.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalID extracts the principal id from the context, defaulting to
// "system" when no principal is present.
func PrincipalID(ctx context.Context) string {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.ID()
	}
	return "system"
}

// DefaultPrincipal is a simple implementation of Principal for internal
// components.
type DefaultPrincipal struct {
	id            string
	principalType string
}

// NewDefaultPrincipal creates a new DefaultPrincipal.
func NewDefaultPrincipal(id, principalType string) *DefaultPrincipal {
	return &DefaultPrincipal{id: id, principalType: principalType}
}

func (p *DefaultPrincipal) ID() string   { return p.id }
func (p *DefaultPrincipal) Type() string { return p.principalType }
