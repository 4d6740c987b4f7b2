// Package identity resolves users and threads the active user through
// context. There is deliberately no package-level "current user" slot: every
// operation that touches a profile receives its scope explicitly, so
// concurrent work for different users cannot bleed into each other.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/metahuman-os/cortex/internal/config"
)

// ErrNoActiveUser indicates an operation needed a user scope but the context
// carried none.
var ErrNoActiveUser = errors.New("no active user in context")

// Scope binds a resolved user to the installation root it lives under.
// Everything user-scoped (locks, registry, audit log, memory tree) derives
// its paths from here.
type Scope struct {
	User *User
	Root string
}

// Paths returns the profile path layout for this scope.
func (s *Scope) Paths() ProfilePaths {
	return ProfilePaths{Root: s.Root, Username: s.User.Username}
}

// scopeKey is the key type for storing a Scope in context.Context.
type scopeKey struct{}

// WithScope returns a new context carrying the given user scope.
func WithScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// FromContext retrieves the Scope from the context, returning nil if not
// present.
func FromContext(ctx context.Context) *Scope {
	val := ctx.Value(scopeKey{})
	if val == nil {
		return nil
	}
	scope, ok := val.(*Scope)
	if !ok {
		return nil
	}
	return scope
}

// Require retrieves the Scope from the context or fails with
// ErrNoActiveUser. Callers that cannot proceed without a user should use
// this instead of FromContext.
func Require(ctx context.Context) (*Scope, error) {
	scope := FromContext(ctx)
	if scope == nil {
		return nil, ErrNoActiveUser
	}
	return scope, nil
}

// Paths resolves the active scope's profile paths. Path resolution without
// a scope is a hard error, never a fallback to some shared location.
func Paths(ctx context.Context) (ProfilePaths, error) {
	scope, err := Require(ctx)
	if err != nil {
		return ProfilePaths{}, err
	}
	return scope.Paths(), nil
}

// RunScoped invokes fn with the scope attached for exactly the duration of
// the call. The parent context is untouched, so interleaved runs for
// different users each see only their own scope.
func RunScoped(ctx context.Context, scope *Scope, fn func(context.Context) error) error {
	return fn(WithScope(ctx, scope))
}

// NewScope loads the named user under root and binds the two into a scope.
func NewScope(root, username string) (*Scope, error) {
	user, err := Load(root, username)
	if err != nil {
		return nil, err
	}
	return &Scope{User: user, Root: root}, nil
}

// FromEnv builds a scope from the spawn-contract environment variables.
// Spawned agents call this at startup instead of resolving a root from
// their working directory.
func FromEnv() (*Scope, error) {
	root := os.Getenv(config.EnvRoot)
	if root == "" {
		return nil, fmt.Errorf("%s not set", config.EnvRoot)
	}
	username := os.Getenv(config.EnvUser)
	if username == "" {
		return nil, fmt.Errorf("%s not set", config.EnvUser)
	}
	return NewScope(root, username)
}
