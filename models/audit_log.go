package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the verb of an audited action
type AuditAction string

const (
	AuditActionCreate       AuditAction = "CREATE"
	AuditActionUpdate       AuditAction = "UPDATE"
	AuditActionDelete       AuditAction = "DELETE"
	AuditActionExport       AuditAction = "EXPORT"
	AuditActionSubmit       AuditAction = "SUBMIT"
	AuditActionApprove      AuditAction = "APPROVE"
	AuditActionReject       AuditAction = "REJECT"
	AuditActionPay          AuditAction = "PAY"
	AuditActionReplay       AuditAction = "REPLAY"
	AuditActionRetry        AuditAction = "RETRY"
	AuditActionClear        AuditAction = "CLEAR"
	AuditActionTest         AuditAction = "TEST"
	AuditActionRotateSecret AuditAction = "ROTATE_SECRET"
	AuditActionStatusChange AuditAction = "STATUS_CHANGE"
	AuditActionFailover     AuditAction = "FAILOVER"
	AuditActionRetention    AuditAction = "RETENTION"
)

// Severity ranks how significant an audited action is
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Outcome records whether the audited action succeeded
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// AuditEvent is an immutable record of a state-changing action
type AuditEvent struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	OrgID      uuid.UUID       `json:"org_id" db:"org_id"`
	ActorID    *uuid.UUID      `json:"actor_id,omitempty" db:"actor_id"`
	ActorEmail string          `json:"actor_email,omitempty" db:"actor_email"`
	Action     AuditAction     `json:"action" db:"action"`
	Target     EntityRef       `json:"target"`
	Before     json.RawMessage `json:"before,omitempty" db:"before_data"`
	After      json.RawMessage `json:"after,omitempty" db:"after_data"`
	Severity   Severity        `json:"severity" db:"severity"`
	Outcome    Outcome         `json:"outcome" db:"outcome"`
	Metadata   json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	IPAddress  string          `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  string          `json:"user_agent,omitempty" db:"user_agent"`
	RequestID  string          `json:"request_id,omitempty" db:"request_id"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the AuditEvent model
func (AuditEvent) TableName() string {
	return "audit_events"
}

// NewAuditEvent creates a successful INFO event for the given action and target
func NewAuditEvent(orgID uuid.UUID, action AuditAction, target EntityRef) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.New(),
		OrgID:     orgID,
		Action:    action,
		Target:    target,
		Severity:  SeverityInfo,
		Outcome:   OutcomeSuccess,
		CreatedAt: time.Now().UTC(),
	}
}

// WithActor sets the acting principal
func (a *AuditEvent) WithActor(p *Principal) *AuditEvent {
	if p == nil {
		return a
	}
	id := p.ID
	a.ActorID = &id
	a.ActorEmail = p.Email
	return a
}

// WithSeverity sets the severity
func (a *AuditEvent) WithSeverity(s Severity) *AuditEvent {
	a.Severity = s
	return a
}

// WithOutcome sets the outcome
func (a *AuditEvent) WithOutcome(o Outcome) *AuditEvent {
	a.Outcome = o
	return a
}

// WithChange records before/after snapshots. Nil values are left empty.
func (a *AuditEvent) WithChange(before, after interface{}) *AuditEvent {
	if before != nil {
		if data, err := json.Marshal(before); err == nil {
			a.Before = data
		}
	}
	if after != nil {
		if data, err := json.Marshal(after); err == nil {
			a.After = data
		}
	}
	return a
}

// WithMetadata sets free-form metadata
func (a *AuditEvent) WithMetadata(metadata interface{}) *AuditEvent {
	if data, err := json.Marshal(metadata); err == nil {
		a.Metadata = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditEvent) WithRequest(requestID, ipAddress, userAgent string) *AuditEvent {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}

// By records the actor and its request metadata
func (a *AuditEvent) By(actor Actor) *AuditEvent {
	return a.WithActor(actor.Principal).WithRequest(actor.RequestID, actor.IPAddress, actor.UserAgent)
}

// AuditFilter selects audit events within a tenant
type AuditFilter struct {
	ActorID    *uuid.UUID
	From       *time.Time
	To         *time.Time
	Action     *AuditAction
	TargetType *EntityType
	Severity   *Severity
	Outcome    *Outcome
	IPAddress  *string
	// Search matches a case-insensitive substring of the actor email,
	// target id or request id
	Search *string
}

// AuditCount is the number of events sharing one action, severity and outcome
type AuditCount struct {
	Action   AuditAction
	Severity Severity
	Outcome  Outcome
	Count    int
}

// AuditStats summarises a tenant's recent audit activity
type AuditStats struct {
	Since        time.Time           `json:"since"`
	TotalEvents  int                 `json:"total_events"`
	Failures     int                 `json:"failures"`
	FailureRate  float64             `json:"failure_rate"`
	HighSeverity int                 `json:"high_severity"`
	Exports      int                 `json:"exports"`
	ByAction     map[AuditAction]int `json:"by_action"`
	BySeverity   map[Severity]int    `json:"by_severity"`
}

// NewAuditStats folds grouped counts into stats. FailureRate is a percentage
// rounded to two decimals.
func NewAuditStats(since time.Time, counts []AuditCount) *AuditStats {
	stats := &AuditStats{
		Since:      since,
		ByAction:   map[AuditAction]int{},
		BySeverity: map[Severity]int{},
	}
	for _, c := range counts {
		stats.TotalEvents += c.Count
		stats.ByAction[c.Action] += c.Count
		stats.BySeverity[c.Severity] += c.Count
		if c.Outcome == OutcomeFailure {
			stats.Failures += c.Count
		}
		if c.Severity == SeverityHigh || c.Severity == SeverityCritical {
			stats.HighSeverity += c.Count
		}
		if c.Action == AuditActionExport {
			stats.Exports += c.Count
		}
	}
	if stats.TotalEvents > 0 {
		rate := float64(stats.Failures) * 100 / float64(stats.TotalEvents)
		stats.FailureRate = math.Round(rate*100) / 100
	}
	return stats
}

// AuditActorOption is an actor that appears in the audit trail
type AuditActorOption struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email,omitempty"`
}

// AuditFilterOptions lists the values worth offering as list filters
type AuditFilterOptions struct {
	Actors      []AuditActorOption `json:"actors"`
	Actions     []AuditAction      `json:"actions"`
	TargetTypes []EntityType       `json:"target_types"`
	Severities  []Severity         `json:"severities"`
	Outcomes    []Outcome          `json:"outcomes"`
}

// Severities returns every severity, least significant first
func Severities() []Severity {
	return []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// Outcomes returns every outcome
func Outcomes() []Outcome {
	return []Outcome{OutcomeSuccess, OutcomeFailure}
}

// Pagination describes a page of a list result
type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes page totals
func NewPagination(total, page, pageSize int) Pagination {
	pages := 0
	if pageSize > 0 {
		pages = (total + pageSize - 1) / pageSize
	}
	return Pagination{Total: total, Page: page, PageSize: pageSize, TotalPages: pages}
}

// Page is a paginated list result
type Page[T any] struct {
	Items      []T        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// RetentionAction is what happens to audit rows past their retention window
type RetentionAction string

const (
	RetentionArchive   RetentionAction = "archive"
	RetentionDelete    RetentionAction = "delete"
	RetentionAnonymize RetentionAction = "anonymize"
)

// Valid reports whether a is a known retention action
func (a RetentionAction) Valid() bool {
	return a == RetentionArchive || a == RetentionDelete || a == RetentionAnonymize
}

// RetentionPolicy defines how long audit events about one entity type are
// kept. A tenant has at most one policy per entity type.
type RetentionPolicy struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	OrgID         uuid.UUID       `json:"org_id" db:"org_id"`
	EntityType    EntityType      `json:"entity_type" db:"entity_type"`
	RetentionDays int             `json:"retention_days" db:"retention_days"`
	Action        RetentionAction `json:"action" db:"action"`
	Enabled       bool            `json:"enabled" db:"enabled"`
	LastAppliedAt *time.Time      `json:"last_applied_at,omitempty" db:"last_applied_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Cutoff returns the instant before which rows fall under the policy
func (p *RetentionPolicy) Cutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -p.RetentionDays)
}

// Validate checks policy invariants
func (p *RetentionPolicy) Validate() error {
	if p.EntityType.IsZero() {
		return fmt.Errorf("entity type is required")
	}
	if p.RetentionDays <= 0 {
		return fmt.Errorf("retention days must be positive")
	}
	if !p.Action.Valid() {
		return fmt.Errorf("invalid retention action %q", p.Action)
	}
	return nil
}

// RetentionResult summarises one policy application
type RetentionResult struct {
	PolicyID   uuid.UUID       `json:"policy_id"`
	EntityType EntityType      `json:"entity_type"`
	Action     RetentionAction `json:"action"`
	Affected   int64           `json:"affected"`
}
