package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/tenant"
)

var (
	// ErrNotFound is returned when no row matches within the tenant
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned on unique constraint violations
	ErrDuplicate = errors.New("record already exists")

	// ErrPreconditionFailed is returned when a conditional update matched the
	// row but its current state no longer satisfies the precondition
	ErrPreconditionFailed = errors.New("precondition failed")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Context() context.Context
}

// AuditRepository appends and reads audit events of one tenant
type AuditRepository interface {
	// Insert appends an event; events are never updated afterwards
	Insert(ctx context.Context, event *models.AuditEvent) error

	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEvent, error)

	// List returns one page of events, newest first, plus the filtered total
	List(ctx context.Context, filter models.AuditFilter, limit, offset int) ([]*models.AuditEvent, int, error)

	// Export returns at most limit events, newest first
	Export(ctx context.Context, filter models.AuditFilter, limit int) ([]*models.AuditEvent, error)

	// ApplyRetention archives, deletes or anonymizes events of entityType created before cutoff
	ApplyRetention(ctx context.Context, entityType models.EntityType, cutoff time.Time, action models.RetentionAction) (int64, error)

	// Counts groups events created at or after since by action, severity and outcome
	Counts(ctx context.Context, since time.Time) ([]models.AuditCount, error)

	// FilterOptions returns the distinct actors, actions and target types
	// present in the trail. At most maxActors actors are returned.
	FilterOptions(ctx context.Context, maxActors int) (*models.AuditFilterOptions, error)
}

// RetentionPolicyRepository stores audit retention policies of one tenant
type RetentionPolicyRepository interface {
	List(ctx context.Context) ([]*models.RetentionPolicy, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.RetentionPolicy, error)

	// Upsert creates or replaces the policy for (table name, entity type)
	Upsert(ctx context.Context, policy *models.RetentionPolicy) error

	Delete(ctx context.Context, id uuid.UUID) error
	MarkApplied(ctx context.Context, id uuid.UUID, at time.Time) error
}

// WebhookSubscriptionRepository stores webhook subscriptions of one tenant
type WebhookSubscriptionRepository interface {
	Create(ctx context.Context, sub *models.WebhookSubscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookSubscription, error)
	List(ctx context.Context) ([]*models.WebhookSubscription, error)

	// ListActiveForEvent returns active subscriptions listening to eventType or "*"
	ListActiveForEvent(ctx context.Context, eventType string) ([]*models.WebhookSubscription, error)

	// Update replaces url, description, event types and retry policy
	Update(ctx context.Context, sub *models.WebhookSubscription) error

	UpdateStatus(ctx context.Context, id uuid.UUID, status models.SubscriptionStatus) error
	UpdateSecret(ctx context.Context, id uuid.UUID, secret string) error

	// RecordSuccess resets the consecutive failure counter
	RecordSuccess(ctx context.Context, id uuid.UUID, at time.Time) error

	// RecordFailure increments the consecutive failure counter and returns the new value
	RecordFailure(ctx context.Context, id uuid.UUID, at time.Time) (int, error)
}

// WebhookDeliveryRepository stores webhook deliveries of one tenant
type WebhookDeliveryRepository interface {
	Create(ctx context.Context, delivery *models.WebhookDelivery) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookDelivery, error)
	List(ctx context.Context, filter models.DeliveryFilter, limit, offset int) ([]*models.WebhookDelivery, int, error)

	// Transition persists the attempt outcome held in delivery, but only while the
	// stored row still has fromStatus and fromAttempt
	Transition(ctx context.Context, delivery *models.WebhookDelivery, fromStatus models.DeliveryStatus, fromAttempt int) error

	// ResetFromDLQ moves a dlq delivery back to pending on attempt 1
	ResetFromDLQ(ctx context.Context, id uuid.UUID, at time.Time) (*models.WebhookDelivery, error)

	// MarkFailed moves a dlq delivery to the terminal failed state
	MarkFailed(ctx context.Context, id uuid.UUID, at time.Time) error

	// MarkAllFailed moves every dlq delivery, optionally of one subscription, to failed
	MarkAllFailed(ctx context.Context, subscriptionID *uuid.UUID, at time.Time) (int64, error)
}

// OutboxWriter enqueues dispatch work inside the caller's transaction
type OutboxWriter interface {
	Enqueue(ctx context.Context, msg *models.OutboxMessage) error
}

// OutboxQueue is the consumer side of the webhook outbox. It spans tenants;
// each claimed message carries the org id used to scope follow-up reads.
type OutboxQueue interface {
	// ClaimBatch leases up to limit due messages until now+lease
	ClaimBatch(ctx context.Context, limit int, lease time.Duration) ([]*models.OutboxMessage, error)

	// Complete marks a message processed
	Complete(ctx context.Context, id uuid.UUID, at time.Time) error
}

// FailoverRepository stores failover configuration of one tenant
type FailoverRepository interface {
	List(ctx context.Context) ([]*models.FailoverConfig, error)
	GetByIntegrationType(ctx context.Context, integrationType string) (*models.FailoverConfig, error)

	// Upsert creates or replaces the configuration for its integration type
	Upsert(ctx context.Context, cfg *models.FailoverConfig) error

	// Switch moves current_active from expected to its opposite and returns the new row
	Switch(ctx context.Context, integrationType string, expected models.FailoverTarget, reason string, at time.Time) (*models.FailoverConfig, error)
}

// ExpenseRepository stores expense reports of one tenant
type ExpenseRepository interface {
	CreateReport(ctx context.Context, report *models.ExpenseReport) error

	// GetReport returns the report with its items
	GetReport(ctx context.Context, id uuid.UUID) (*models.ExpenseReport, error)

	ListReports(ctx context.Context, filter models.ExpenseFilter, limit, offset int) ([]*models.ExpenseReport, int, error)

	// AddItem inserts an item while the report is still a draft
	AddItem(ctx context.Context, item *models.ExpenseItem) error

	// RecomputeTotal sets total_amount to the sum of the report's items
	RecomputeTotal(ctx context.Context, reportID uuid.UUID) (int64, error)

	// Transition moves the report from one status to another, stamping the
	// columns carried in change; it fails with ErrPreconditionFailed when the
	// report is no longer in from, or its total no longer matches
	// change.ExpectedTotal
	Transition(ctx context.Context, id uuid.UUID, from, to models.ExpenseStatus, change ExpenseChange) (*models.ExpenseReport, error)

	GetSettings(ctx context.Context) (*models.ExpenseSettings, error)
}

// ExpenseChange carries the columns a status transition stamps
type ExpenseChange struct {
	At              time.Time
	ActorID         *uuid.UUID
	RejectionReason string

	// ExpectedTotal, when set, is the total the decision was based on
	ExpectedTotal *int64
}

// OrganizationRepository reads tenants themselves and is not tenant-scoped
type OrganizationRepository interface {
	Create(ctx context.Context, org *models.Organization) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)
}

// Repositories aggregates the repositories of one tenant
type Repositories struct {
	Scope         tenant.Scope
	Audit         AuditRepository
	Retention     RetentionPolicyRepository
	Subscriptions WebhookSubscriptionRepository
	Deliveries    WebhookDeliveryRepository
	Outbox        OutboxWriter
	Failover      FailoverRepository
	Expenses      ExpenseRepository
}

// Store is the single entry point to persistence. Tenant data is only
// reachable through ForTenant.
type Store interface {
	// ForTenant panics when scope is the zero Scope
	ForTenant(scope tenant.Scope) *Repositories
	Organizations() OrganizationRepository
	OutboxQueue() OutboxQueue
	Transactions() TransactionManager
}
