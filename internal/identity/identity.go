// Package identity abstracts the identity provider: every operation acts
// on behalf of a stable caller identity resolved upstream.
package identity

import (
	"context"
	"errors"
)

// ErrUnauthenticated indicates no caller identity is available.
var ErrUnauthenticated = errors.New("no caller identity")

// Identity is the stable caller identity.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Provider yields the identity of the current caller.
type Provider interface {
	Current(ctx context.Context) (Identity, error)
}

type ctxKey struct{}

// WithIdentity attaches an identity to the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the identity attached by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// ContextProvider resolves the identity from the request context, where the
// HTTP middleware placed it.
type ContextProvider struct{}

func (ContextProvider) Current(ctx context.Context) (Identity, error) {
	id, ok := FromContext(ctx)
	if !ok || id.ID == "" {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}

// Static always yields the same identity. Used in tests.
type Static Identity

func (s Static) Current(ctx context.Context) (Identity, error) {
	if s.ID == "" {
		return Identity{}, ErrUnauthenticated
	}
	return Identity(s), nil
}
