package postgres

import (
	"github.com/upb/staffing-erp/repositories"
	"github.com/upb/staffing-erp/tenant"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages all repositories. It is the
// postgres implementation of repositories.Store.
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger
}

// NewRepositoryFactory creates a new repository factory over an open pool
func NewRepositoryFactory(db *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{db: db, logger: logger}
}

// ForTenant returns repositories whose every query is bound to scope. It
// panics on the zero scope.
func (f *RepositoryFactory) ForTenant(scope tenant.Scope) *repositories.Repositories {
	if scope.IsZero() {
		panic(tenant.ErrNoTenant)
	}
	return &repositories.Repositories{
		Scope:         scope,
		Audit:         NewAuditRepository(f.db, scope, f.logger),
		Retention:     NewRetentionPolicyRepository(f.db, scope, f.logger),
		Subscriptions: NewWebhookSubscriptionRepository(f.db, scope, f.logger),
		Deliveries:    NewWebhookDeliveryRepository(f.db, scope, f.logger),
		Outbox:        NewOutboxWriter(f.db, scope),
		Failover:      NewFailoverRepository(f.db, scope, f.logger),
		Expenses:      NewExpenseRepository(f.db, scope, f.logger),
	}
}

// Organizations returns the tenant directory
func (f *RepositoryFactory) Organizations() repositories.OrganizationRepository {
	return NewOrganizationRepository(f.db, f.logger)
}

// OutboxQueue returns the cross-tenant outbox consumer
func (f *RepositoryFactory) OutboxQueue() repositories.OutboxQueue {
	return NewOutboxQueue(f.db, f.logger)
}

// Transactions returns a transaction manager
func (f *RepositoryFactory) Transactions() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}

var _ repositories.Store = (*RepositoryFactory)(nil)
