package models

import "github.com/google/uuid"

// Role names recognised by role-gated routes
const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleEmployee = "employee"
)

// Principal is the authenticated caller attached to a request context.
// OrgID is uuid.Nil when the identity has no organization membership.
type Principal struct {
	ID    uuid.UUID `json:"id"`
	OrgID uuid.UUID `json:"org_id"`
	Role  string    `json:"role"`
	Email string    `json:"email"`
}

// HasTenant reports whether the principal belongs to an organization
func (p *Principal) HasTenant() bool {
	return p != nil && p.OrgID != uuid.Nil
}

// HasRole reports whether the principal holds one of the given roles.
// Admins satisfy every role check.
func (p *Principal) HasRole(roles ...string) bool {
	if p == nil {
		return false
	}
	if p.Role == RoleAdmin {
		return true
	}
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// Actor is who performed an operation and where the request came from.
// A nil Principal denotes the system itself, such as the webhook dispatcher.
type Actor struct {
	Principal *Principal
	RequestID string
	IPAddress string
	UserAgent string
}

// SystemActor is the actor recorded for work not initiated by a request
func SystemActor() Actor {
	return Actor{UserAgent: "system"}
}

// ID returns the principal id, or nil for the system actor
func (a Actor) ID() *uuid.UUID {
	if a.Principal == nil {
		return nil
	}
	id := a.Principal.ID
	return &id
}
