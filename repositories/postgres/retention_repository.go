package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/repositories"
	"github.com/upb/staffing-erp/tenant"
	"go.uber.org/zap"
)

// RetentionPolicyRepository implements the repositories.RetentionPolicyRepository interface
type RetentionPolicyRepository struct {
	db     *DB
	scope  tenant.Scope
	logger *zap.Logger
}

// NewRetentionPolicyRepository creates a retention policy repository bound to one tenant
func NewRetentionPolicyRepository(db *DB, scope tenant.Scope, logger *zap.Logger) repositories.RetentionPolicyRepository {
	return &RetentionPolicyRepository{db: db, scope: scope, logger: logger}
}

const retentionColumns = `id, org_id, entity_type, retention_days, action, enabled,
	last_applied_at, created_at, updated_at`

// List returns every policy of the tenant
func (r *RetentionPolicyRepository) List(ctx context.Context) ([]*models.RetentionPolicy, error) {
	query := `SELECT ` + retentionColumns + ` FROM audit_retention_policies
		WHERE org_id = $1 ORDER BY entity_type`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, r.scope.OrgID())
	if err != nil {
		return nil, mapError(err, "failed to list retention policies")
	}
	defer rows.Close()

	var policies []*models.RetentionPolicy
	for rows.Next() {
		p, err := scanRetentionPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retention policy: %w", err)
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating retention policies: %w", err)
	}
	return policies, nil
}

// GetByID retrieves one policy
func (r *RetentionPolicyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.RetentionPolicy, error) {
	query := `SELECT ` + retentionColumns + ` FROM audit_retention_policies WHERE org_id = $1 AND id = $2`

	p, err := scanRetentionPolicy(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, r.scope.OrgID(), id))
	if err != nil {
		return nil, mapError(err, "failed to get retention policy")
	}
	return p, nil
}

// Upsert creates or replaces the policy for its entity type.
// On conflict the stored id is kept and written back to policy.
func (r *RetentionPolicyRepository) Upsert(ctx context.Context, policy *models.RetentionPolicy) error {
	policy.OrgID = r.scope.OrgID()
	query := `
		INSERT INTO audit_retention_policies (
			id, org_id, entity_type, retention_days, action, enabled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (org_id, entity_type) DO UPDATE
		SET retention_days = EXCLUDED.retention_days,
		    action = EXCLUDED.action,
		    enabled = EXCLUDED.enabled,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`

	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query,
		policy.ID,
		policy.OrgID,
		policy.EntityType.String(),
		policy.RetentionDays,
		string(policy.Action),
		policy.Enabled,
		policy.UpdatedAt,
	).Scan(&policy.ID, &policy.CreatedAt, &policy.UpdatedAt)
	if err != nil {
		return mapError(err, "failed to upsert retention policy")
	}
	return nil
}

// Delete removes a policy
func (r *RetentionPolicyRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := GetExecutor(ctx, r.db).ExecContext(ctx,
		`DELETE FROM audit_retention_policies WHERE org_id = $1 AND id = $2`, r.scope.OrgID(), id)
	if err != nil {
		return mapError(err, "failed to delete retention policy")
	}
	return expectOne(res, "failed to delete retention policy")
}

// MarkApplied stamps the last time the policy ran
func (r *RetentionPolicyRepository) MarkApplied(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := GetExecutor(ctx, r.db).ExecContext(ctx,
		`UPDATE audit_retention_policies SET last_applied_at = $3 WHERE org_id = $1 AND id = $2`,
		r.scope.OrgID(), id, at)
	if err != nil {
		return mapError(err, "failed to mark retention policy applied")
	}
	return expectOne(res, "failed to mark retention policy applied")
}

func scanRetentionPolicy(row rowScanner) (*models.RetentionPolicy, error) {
	var (
		p                  models.RetentionPolicy
		entityType, action string
	)
	if err := row.Scan(
		&p.ID,
		&p.OrgID,
		&entityType,
		&p.RetentionDays,
		&action,
		&p.Enabled,
		&p.LastAppliedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	t, err := models.ParseEntityType(entityType)
	if err != nil {
		return nil, err
	}
	p.EntityType = t
	p.Action = models.RetentionAction(action)
	return &p, nil
}
