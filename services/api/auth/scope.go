// Package auth turns bearer credentials into identities with an access
// scope over the asset hierarchy.
package auth

import (
	"context"
	"sort"
)

// AccessScope is the set of states and plants an identity may see, or
// unrestricted. A scope is immutable once built.
type AccessScope struct {
	unrestricted bool
	states       map[string]struct{}
	plants       map[string]struct{}
}

// Unrestricted returns the scope of administrative identities.
func Unrestricted() AccessScope {
	return AccessScope{unrestricted: true}
}

// NewScope builds a restricted scope from state and plant ids.
func NewScope(states, plants []string) AccessScope {
	s := AccessScope{
		states: make(map[string]struct{}, len(states)),
		plants: make(map[string]struct{}, len(plants)),
	}
	for _, id := range states {
		if id != "" {
			s.states[id] = struct{}{}
		}
	}
	for _, id := range plants {
		if id != "" {
			s.plants[id] = struct{}{}
		}
	}
	return s
}

// IsUnrestricted reports whether the scope bypasses membership checks.
func (s AccessScope) IsUnrestricted() bool { return s.unrestricted }

// HasState reports whether the state is visible.
func (s AccessScope) HasState(id string) bool {
	if s.unrestricted {
		return true
	}
	_, ok := s.states[id]
	return ok
}

// HasPlant reports whether the plant is visible.
func (s AccessScope) HasPlant(id string) bool {
	if s.unrestricted {
		return true
	}
	_, ok := s.plants[id]
	return ok
}

// States lists the state ids of a restricted scope in sorted order.
func (s AccessScope) States() []string { return sortedKeys(s.states) }

// Plants lists the plant ids of a restricted scope in sorted order.
func (s AccessScope) Plants() []string { return sortedKeys(s.plants) }

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Identity is an authenticated caller.
type Identity struct {
	ID    string
	Roles []string
	Scope AccessScope
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
