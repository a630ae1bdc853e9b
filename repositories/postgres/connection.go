package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/sethvargo/go-retry"
	"github.com/upb/staffing-erp/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// The database may still be starting when the binaries come up.
	backoff := retry.WithCappedDuration(2*time.Second, retry.NewExponential(100*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			logger.Warn("database not ready", zap.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// WrapDB adapts an existing pool, mainly for tests backed by sqlmock
func WrapDB(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// InitSchema creates every table and index if missing
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS organizations (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		slug VARCHAR(100) NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS audit_events (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		actor_id UUID,
		actor_email VARCHAR(255),
		action VARCHAR(50) NOT NULL,
		target_type VARCHAR(50) NOT NULL,
		target_id UUID NOT NULL,
		before_data JSONB,
		after_data JSONB,
		severity VARCHAR(20) NOT NULL,
		outcome VARCHAR(20) NOT NULL,
		metadata JSONB,
		ip_address VARCHAR(45),
		user_agent TEXT,
		request_id VARCHAR(255),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS audit_events_archive (LIKE audit_events INCLUDING ALL);

	CREATE TABLE IF NOT EXISTS audit_retention_policies (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		entity_type VARCHAR(50) NOT NULL,
		retention_days INTEGER NOT NULL CHECK (retention_days > 0),
		action VARCHAR(20) NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT true,
		last_applied_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (org_id, entity_type)
	);

	CREATE TABLE IF NOT EXISTS webhook_subscriptions (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		event_types TEXT[] NOT NULL,
		secret VARCHAR(128) NOT NULL,
		status VARCHAR(20) NOT NULL,
		max_retries INTEGER NOT NULL,
		backoff_strategy VARCHAR(20) NOT NULL,
		base_delay_ms BIGINT NOT NULL,
		max_delay_ms BIGINT NOT NULL,
		jitter_percent INTEGER NOT NULL DEFAULT 0,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		last_success_at TIMESTAMPTZ,
		last_failure_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		subscription_id UUID NOT NULL REFERENCES webhook_subscriptions(id) ON DELETE CASCADE,
		event_type VARCHAR(100) NOT NULL,
		payload JSONB NOT NULL,
		status VARCHAR(20) NOT NULL,
		attempt_number INTEGER NOT NULL DEFAULT 1,
		next_retry_at TIMESTAMPTZ,
		response_status INTEGER,
		response_body TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER,
		replayed_from UUID,
		last_attempt_at TIMESTAMPTZ,
		delivered_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS webhook_outbox (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL,
		delivery_id UUID NOT NULL REFERENCES webhook_deliveries(id) ON DELETE CASCADE,
		attempt_number INTEGER NOT NULL,
		available_at TIMESTAMPTZ NOT NULL,
		locked_until TIMESTAMPTZ,
		processed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS failover_configs (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		integration_type VARCHAR(50) NOT NULL,
		primary_provider VARCHAR(100) NOT NULL,
		backup_provider VARCHAR(100) NOT NULL,
		failure_threshold INTEGER NOT NULL DEFAULT 3,
		auto_failover BOOLEAN NOT NULL DEFAULT false,
		auto_recovery BOOLEAN NOT NULL DEFAULT false,
		current_active VARCHAR(10) NOT NULL DEFAULT 'primary',
		failover_count INTEGER NOT NULL DEFAULT 0,
		last_failover_at TIMESTAMPTZ,
		last_failover_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (org_id, integration_type)
	);

	CREATE TABLE IF NOT EXISTS expense_settings (
		org_id UUID PRIMARY KEY REFERENCES organizations(id) ON DELETE CASCADE,
		auto_approval_limit BIGINT
	);

	CREATE TABLE IF NOT EXISTS expense_reports (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		employee_id UUID NOT NULL,
		title VARCHAR(255) NOT NULL,
		currency CHAR(3) NOT NULL,
		total_amount BIGINT NOT NULL DEFAULT 0,
		status VARCHAR(30) NOT NULL,
		submitted_at TIMESTAMPTZ,
		approved_by UUID,
		approved_at TIMESTAMPTZ,
		rejection_reason TEXT NOT NULL DEFAULT '',
		paid_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS expense_items (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL,
		report_id UUID NOT NULL REFERENCES expense_reports(id) ON DELETE CASCADE,
		category VARCHAR(50) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		amount BIGINT NOT NULL CHECK (amount > 0),
		incurred_on DATE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_org_created ON audit_events(org_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_events_org_actor ON audit_events(org_id, actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_org_target ON audit_events(org_id, target_type, target_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_org_ip ON audit_events(org_id, ip_address);
	CREATE INDEX IF NOT EXISTS idx_webhook_subscriptions_org ON webhook_subscriptions(org_id, status);
	CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_org_status ON webhook_deliveries(org_id, status);
	CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_org_sub ON webhook_deliveries(org_id, subscription_id);
	CREATE INDEX IF NOT EXISTS idx_webhook_outbox_due ON webhook_outbox(available_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_expense_reports_org_status ON expense_reports(org_id, status);
	CREATE INDEX IF NOT EXISTS idx_expense_items_org_report ON expense_items(org_id, report_id);
`
