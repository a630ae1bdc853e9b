// Package memory is an in-process implementation of repositories.Store.
//
// It keeps the same tenant filtering, conditional-update and transaction
// semantics as the postgres store, so services can be exercised end to end
// without a database.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/repositories"
	"github.com/upb/staffing-erp/tenant"
)

// Store holds every table in maps guarded by one mutex
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex
	data *tables

	// Now is the clock used by the outbox queue
	Now func() time.Time
}

type tables struct {
	orgs       map[uuid.UUID]models.Organization
	audit      []models.AuditEvent
	archive    []models.AuditEvent
	retention  map[uuid.UUID]models.RetentionPolicy
	subs       map[uuid.UUID]models.WebhookSubscription
	deliveries map[uuid.UUID]models.WebhookDelivery
	outbox     []models.OutboxMessage
	failover   map[uuid.UUID]models.FailoverConfig
	reports    map[uuid.UUID]models.ExpenseReport
	items      map[uuid.UUID][]models.ExpenseItem
	settings   map[uuid.UUID]models.ExpenseSettings
}

func newTables() *tables {
	return &tables{
		orgs:       make(map[uuid.UUID]models.Organization),
		retention:  make(map[uuid.UUID]models.RetentionPolicy),
		subs:       make(map[uuid.UUID]models.WebhookSubscription),
		deliveries: make(map[uuid.UUID]models.WebhookDelivery),
		failover:   make(map[uuid.UUID]models.FailoverConfig),
		reports:    make(map[uuid.UUID]models.ExpenseReport),
		items:      make(map[uuid.UUID][]models.ExpenseItem),
		settings:   make(map[uuid.UUID]models.ExpenseSettings),
	}
}

// clone copies every table so a failed transaction can be rolled back
func (t *tables) clone() *tables {
	c := newTables()
	for k, v := range t.orgs {
		c.orgs[k] = v
	}
	c.audit = append([]models.AuditEvent(nil), t.audit...)
	c.archive = append([]models.AuditEvent(nil), t.archive...)
	for k, v := range t.retention {
		c.retention[k] = v
	}
	for k, v := range t.subs {
		c.subs[k] = v
	}
	for k, v := range t.deliveries {
		c.deliveries[k] = v
	}
	c.outbox = append([]models.OutboxMessage(nil), t.outbox...)
	for k, v := range t.failover {
		c.failover[k] = v
	}
	for k, v := range t.reports {
		c.reports[k] = v
	}
	for k, v := range t.items {
		c.items[k] = append([]models.ExpenseItem(nil), v...)
	}
	for k, v := range t.settings {
		c.settings[k] = v
	}
	return c
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{data: newTables(), Now: time.Now}
}

// ForTenant returns repositories bound to scope. It panics on the zero scope.
func (s *Store) ForTenant(scope tenant.Scope) *repositories.Repositories {
	if scope.IsZero() {
		panic(tenant.ErrNoTenant)
	}
	org := scope.OrgID()
	return &repositories.Repositories{
		Scope:         scope,
		Audit:         &auditRepo{s: s, org: org},
		Retention:     &retentionRepo{s: s, org: org},
		Subscriptions: &subscriptionRepo{s: s, org: org},
		Deliveries:    &deliveryRepo{s: s, org: org},
		Outbox:        &outboxWriter{s: s, org: org},
		Failover:      &failoverRepo{s: s, org: org},
		Expenses:      &expenseRepo{s: s, org: org},
	}
}

// Organizations returns the tenant directory
func (s *Store) Organizations() repositories.OrganizationRepository {
	return &orgRepo{s: s}
}

// OutboxQueue returns the cross-tenant outbox consumer
func (s *Store) OutboxQueue() repositories.OutboxQueue {
	return &outboxQueue{s: s}
}

// Transactions returns a transaction manager that serialises units of work
func (s *Store) Transactions() repositories.TransactionManager {
	return &txManager{s: s}
}

// SetExpenseSettings stores the expense policy of a tenant
func (s *Store) SetExpenseSettings(settings models.ExpenseSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.settings[settings.OrgID] = settings
}

// AuditEvents returns the live audit rows of a tenant in insertion order
func (s *Store) AuditEvents(orgID uuid.UUID) []models.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditEvent
	for _, e := range s.data.audit {
		if e.OrgID == orgID {
			out = append(out, e)
		}
	}
	return out
}

// ArchivedEvents returns the archived audit rows of a tenant
func (s *Store) ArchivedEvents(orgID uuid.UUID) []models.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditEvent
	for _, e := range s.data.archive {
		if e.OrgID == orgID {
			out = append(out, e)
		}
	}
	return out
}

// PendingOutbox returns unprocessed outbox messages of every tenant
func (s *Store) PendingOutbox() []models.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.OutboxMessage
	for _, msg := range s.data.outbox {
		if msg.ProcessedAt == nil {
			out = append(out, msg)
		}
	}
	return out
}

type txKey struct{}

type txManager struct {
	s *Store
}

type transaction struct {
	ctx context.Context
}

func (t *transaction) Commit() error            { return nil }
func (t *transaction) Rollback() error          { return nil }
func (t *transaction) Context() context.Context { return t.ctx }

func (m *txManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return &transaction{ctx: ctx}, nil
}

// InTransaction runs fn with exclusive access and restores the previous
// state when fn fails. Nested calls join the outer unit of work.
func (m *txManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	if tx, ok := ctx.Value(txKey{}).(*transaction); ok {
		return fn(ctx, tx)
	}

	m.s.txMu.Lock()
	defer m.s.txMu.Unlock()

	m.s.mu.Lock()
	snapshot := m.s.data.clone()
	m.s.mu.Unlock()

	tx := &transaction{}
	txCtx := context.WithValue(ctx, txKey{}, tx)
	tx.ctx = txCtx

	if err := fn(txCtx, tx); err != nil {
		m.s.mu.Lock()
		m.s.data = snapshot
		m.s.mu.Unlock()
		return err
	}
	return nil
}

var _ repositories.Store = (*Store)(nil)
