package models

import (
	"fmt"

	"github.com/google/uuid"
)

// EntityType names the kind of record an audit event points at.
// The set is closed: values can only be obtained from the variables below
// or from ParseEntityType.
type EntityType struct {
	name string
}

var (
	EntityOrganization        = EntityType{"organization"}
	EntityUser                = EntityType{"user"}
	EntityAuditEvent          = EntityType{"audit_event"}
	EntityRetentionPolicy     = EntityType{"retention_policy"}
	EntityWebhookSubscription = EntityType{"webhook_subscription"}
	EntityWebhookDelivery     = EntityType{"webhook_delivery"}
	EntityFailoverConfig      = EntityType{"failover_config"}
	EntityExpenseReport       = EntityType{"expense_report"}
	EntityExpenseItem         = EntityType{"expense_item"}
)

var entityTypes = map[string]EntityType{
	EntityOrganization.name:        EntityOrganization,
	EntityUser.name:                EntityUser,
	EntityAuditEvent.name:          EntityAuditEvent,
	EntityRetentionPolicy.name:     EntityRetentionPolicy,
	EntityWebhookSubscription.name: EntityWebhookSubscription,
	EntityWebhookDelivery.name:     EntityWebhookDelivery,
	EntityFailoverConfig.name:      EntityFailoverConfig,
	EntityExpenseReport.name:       EntityExpenseReport,
	EntityExpenseItem.name:         EntityExpenseItem,
}

// ParseEntityType resolves a stored or user-supplied name to an EntityType
func ParseEntityType(s string) (EntityType, error) {
	t, ok := entityTypes[s]
	if !ok {
		return EntityType{}, fmt.Errorf("unknown entity type %q", s)
	}
	return t, nil
}

// EntityTypes returns every known entity type
func EntityTypes() []EntityType {
	out := make([]EntityType, 0, len(entityTypes))
	for _, t := range entityTypes {
		out = append(out, t)
	}
	return out
}

func (t EntityType) String() string { return t.name }

// IsZero reports whether t is the unset value
func (t EntityType) IsZero() bool { return t.name == "" }

// MarshalText implements encoding.TextMarshaler
func (t EntityType) MarshalText() ([]byte, error) {
	return []byte(t.name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and rejects unknown names
func (t *EntityType) UnmarshalText(b []byte) error {
	parsed, err := ParseEntityType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// EntityRef identifies the target of an audited action
type EntityRef struct {
	Type EntityType `json:"type"`
	ID   uuid.UUID  `json:"id"`
}

// NewEntityRef pairs a type with an id
func NewEntityRef(t EntityType, id uuid.UUID) EntityRef {
	return EntityRef{Type: t, ID: id}
}

// ParseEntityRef validates a stored (type, id) pair
func ParseEntityRef(typeName, id string) (EntityRef, error) {
	t, err := ParseEntityType(typeName)
	if err != nil {
		return EntityRef{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return EntityRef{}, fmt.Errorf("invalid entity id %q: %w", id, err)
	}
	return EntityRef{Type: t, ID: parsed}, nil
}

func (r EntityRef) String() string {
	return r.Type.name + ":" + r.ID.String()
}
