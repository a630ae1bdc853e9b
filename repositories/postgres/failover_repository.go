package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/repositories"
	"github.com/upb/staffing-erp/tenant"
	"go.uber.org/zap"
)

// FailoverRepository implements the repositories.FailoverRepository interface
type FailoverRepository struct {
	db     *DB
	scope  tenant.Scope
	logger *zap.Logger
}

// NewFailoverRepository creates a failover repository bound to one tenant
func NewFailoverRepository(db *DB, scope tenant.Scope, logger *zap.Logger) repositories.FailoverRepository {
	return &FailoverRepository{db: db, scope: scope, logger: logger}
}

const failoverColumns = `id, org_id, integration_type, primary_provider, backup_provider, failure_threshold,
	auto_failover, auto_recovery, current_active, failover_count, last_failover_at, last_failover_reason,
	created_at, updated_at`

// List returns every failover configuration of the tenant
func (r *FailoverRepository) List(ctx context.Context) ([]*models.FailoverConfig, error) {
	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx,
		`SELECT `+failoverColumns+` FROM failover_configs WHERE org_id = $1 ORDER BY integration_type`,
		r.scope.OrgID())
	if err != nil {
		return nil, mapError(err, "failed to list failover configs")
	}
	defer rows.Close()

	var configs []*models.FailoverConfig
	for rows.Next() {
		c, err := scanFailover(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan failover config: %w", err)
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failover configs: %w", err)
	}
	return configs, nil
}

// GetByIntegrationType retrieves the configuration for one integration type
func (r *FailoverRepository) GetByIntegrationType(ctx context.Context, integrationType string) (*models.FailoverConfig, error) {
	c, err := scanFailover(GetExecutor(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+failoverColumns+` FROM failover_configs WHERE org_id = $1 AND integration_type = $2`,
		r.scope.OrgID(), integrationType))
	if err != nil {
		return nil, mapError(err, "failed to get failover config")
	}
	return c, nil
}

// Upsert creates or replaces the configuration for its integration type.
// current_active and the failover history survive an update.
func (r *FailoverRepository) Upsert(ctx context.Context, c *models.FailoverConfig) error {
	c.OrgID = r.scope.OrgID()
	query := `
		INSERT INTO failover_configs (
			id, org_id, integration_type, primary_provider, backup_provider, failure_threshold,
			auto_failover, auto_recovery, current_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (org_id, integration_type) DO UPDATE
		SET primary_provider = EXCLUDED.primary_provider,
		    backup_provider = EXCLUDED.backup_provider,
		    failure_threshold = EXCLUDED.failure_threshold,
		    auto_failover = EXCLUDED.auto_failover,
		    auto_recovery = EXCLUDED.auto_recovery,
		    updated_at = EXCLUDED.updated_at
		RETURNING ` + failoverColumns

	stored, err := scanFailover(GetExecutor(ctx, r.db).QueryRowContext(ctx, query,
		c.ID,
		c.OrgID,
		c.IntegrationType,
		c.PrimaryProvider,
		c.BackupProvider,
		c.FailureThreshold,
		c.AutoFailover,
		c.AutoRecovery,
		string(models.FailoverPrimary),
		c.UpdatedAt,
	))
	if err != nil {
		return mapError(err, "failed to upsert failover config")
	}
	*c = *stored
	return nil
}

// Switch moves current_active from expected to its opposite and returns the new row
func (r *FailoverRepository) Switch(ctx context.Context, integrationType string, expected models.FailoverTarget, reason string, at time.Time) (*models.FailoverConfig, error) {
	query := `
		UPDATE failover_configs
		SET current_active = $4, failover_count = failover_count + 1,
		    last_failover_at = $5, last_failover_reason = $6, updated_at = $5
		WHERE org_id = $1 AND integration_type = $2 AND current_active = $3
		RETURNING ` + failoverColumns

	executor := GetExecutor(ctx, r.db)
	c, err := scanFailover(executor.QueryRowContext(ctx, query,
		r.scope.OrgID(), integrationType, string(expected), string(expected.Other()), at, reason))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rowExists(ctx, executor,
			`SELECT 1 FROM failover_configs WHERE org_id = $1 AND integration_type = $2`,
			r.scope.OrgID(), integrationType)
	}
	if err != nil {
		return nil, mapError(err, "failed to switch failover target")
	}

	r.logger.Info("failover switched",
		zap.String("org_id", r.scope.String()),
		zap.String("integration_type", integrationType),
		zap.String("current_active", string(c.CurrentActive)))
	return c, nil
}

func scanFailover(row rowScanner) (*models.FailoverConfig, error) {
	var (
		c      models.FailoverConfig
		active string
	)
	if err := row.Scan(
		&c.ID,
		&c.OrgID,
		&c.IntegrationType,
		&c.PrimaryProvider,
		&c.BackupProvider,
		&c.FailureThreshold,
		&c.AutoFailover,
		&c.AutoRecovery,
		&active,
		&c.FailoverCount,
		&c.LastFailoverAt,
		&c.LastFailoverReason,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.CurrentActive = models.FailoverTarget(active)
	return &c, nil
}
