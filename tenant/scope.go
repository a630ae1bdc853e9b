// Package tenant carries the resolved organization of a request.
//
// A Scope can only be built through NewScope, which rejects the zero id, so
// any repository constructor that takes a Scope is guaranteed a real tenant
// filter.
package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNoTenant is returned when a scope is requested for the zero organization id
var ErrNoTenant = errors.New("tenant: organization id is required")

// Scope identifies the organization every query of a request is filtered by
type Scope struct {
	orgID uuid.UUID
}

// NewScope builds a scope for orgID
func NewScope(orgID uuid.UUID) (Scope, error) {
	if orgID == uuid.Nil {
		return Scope{}, ErrNoTenant
	}
	return Scope{orgID: orgID}, nil
}

// MustScope is NewScope for ids known to be valid, such as rows read back from the store
func MustScope(orgID uuid.UUID) Scope {
	s, err := NewScope(orgID)
	if err != nil {
		panic(err)
	}
	return s
}

// OrgID returns the organization id
func (s Scope) OrgID() uuid.UUID {
	return s.orgID
}

// IsZero reports whether the scope was never initialised
func (s Scope) IsZero() bool {
	return s.orgID == uuid.Nil
}

func (s Scope) String() string {
	return s.orgID.String()
}

type scopeContextKey struct{}

// WithScope attaches s to ctx
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, s)
}

// FromContext returns the scope attached by WithScope
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeContextKey{}).(Scope)
	if !ok || s.IsZero() {
		return Scope{}, false
	}
	return s, true
}
