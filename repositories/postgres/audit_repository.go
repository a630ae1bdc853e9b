package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/repositories"
	"github.com/upb/staffing-erp/tenant"
	"go.uber.org/zap"
)

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	scope  tenant.Scope
	logger *zap.Logger
}

// NewAuditRepository creates an audit repository bound to one tenant
func NewAuditRepository(db *DB, scope tenant.Scope, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		scope:  scope,
		logger: logger,
	}
}

const auditColumns = `id, org_id, actor_id, actor_email, action, target_type, target_id,
	before_data, after_data, severity, outcome, metadata, ip_address, user_agent, request_id, created_at`

// Insert appends a new audit event. An event carrying another tenant's id is rejected.
func (r *AuditRepository) Insert(ctx context.Context, event *models.AuditEvent) error {
	if event.OrgID == uuid.Nil {
		event.OrgID = r.scope.OrgID()
	}
	if event.OrgID != r.scope.OrgID() {
		return fmt.Errorf("audit event org %s does not match scope %s", event.OrgID, r.scope)
	}
	if event.Target.Type.IsZero() {
		return fmt.Errorf("audit event target type is required")
	}

	query := `
		INSERT INTO audit_events (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		event.ID,
		event.OrgID,
		nullUUID(event.ActorID),
		nullString(event.ActorEmail),
		string(event.Action),
		event.Target.Type.String(),
		event.Target.ID,
		nullJSON(event.Before),
		nullJSON(event.After),
		string(event.Severity),
		string(event.Outcome),
		nullJSON(event.Metadata),
		nullString(event.IPAddress),
		nullString(event.UserAgent),
		nullString(event.RequestID),
		event.CreatedAt,
	)
	if err != nil {
		return mapError(err, "failed to insert audit event")
	}

	r.logger.Debug("audit event inserted",
		zap.String("id", event.ID.String()),
		zap.String("action", string(event.Action)),
		zap.String("target", event.Target.String()))
	return nil
}

// GetByID retrieves an audit event of the tenant
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEvent, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_events WHERE org_id = $1 AND id = $2`

	row := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, r.scope.OrgID(), id)
	event, err := scanAuditEvent(row)
	if err != nil {
		return nil, mapError(err, "failed to get audit event")
	}
	return event, nil
}

// List returns one page of events, newest first, and the filtered total
func (r *AuditRepository) List(ctx context.Context, filter models.AuditFilter, limit, offset int) ([]*models.AuditEvent, int, error) {
	where, args := auditWhere(r.scope, filter)
	executor := GetExecutor(ctx, r.db)

	var total int
	if err := executor.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "failed to count audit events")
	}

	query := fmt.Sprintf(`SELECT %s FROM audit_events WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		auditColumns, where, len(args)+1, len(args)+2)
	events, err := r.query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// Export returns at most limit events, newest first
func (r *AuditRepository) Export(ctx context.Context, filter models.AuditFilter, limit int) ([]*models.AuditEvent, error) {
	where, args := auditWhere(r.scope, filter)
	query := fmt.Sprintf(`SELECT %s FROM audit_events WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		auditColumns, where, len(args)+1)
	return r.query(ctx, query, append(args, limit)...)
}

// ApplyRetention archives, deletes or anonymizes events of entityType created before cutoff
func (r *AuditRepository) ApplyRetention(ctx context.Context, entityType models.EntityType, cutoff time.Time, action models.RetentionAction) (int64, error) {
	const match = `org_id = $1 AND target_type = $2 AND created_at < $3`

	var query string
	switch action {
	case models.RetentionArchive:
		query = `
			WITH moved AS (
				DELETE FROM audit_events WHERE ` + match + ` RETURNING *
			)
			INSERT INTO audit_events_archive SELECT * FROM moved
		`
	case models.RetentionDelete:
		query = `DELETE FROM audit_events WHERE ` + match
	case models.RetentionAnonymize:
		query = `
			UPDATE audit_events
			SET actor_id = NULL, actor_email = NULL, ip_address = NULL, user_agent = NULL,
			    before_data = NULL, after_data = NULL
			WHERE ` + match + ` AND (actor_id IS NOT NULL OR actor_email IS NOT NULL OR ip_address IS NOT NULL
			    OR user_agent IS NOT NULL OR before_data IS NOT NULL OR after_data IS NOT NULL)
		`
	default:
		return 0, fmt.Errorf("unknown retention action %q", action)
	}

	res, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, r.scope.OrgID(), entityType.String(), cutoff)
	if err != nil {
		return 0, mapError(err, "failed to apply audit retention")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read retention result: %w", err)
	}

	r.logger.Info("audit retention applied",
		zap.String("org_id", r.scope.String()),
		zap.String("entity_type", entityType.String()),
		zap.String("action", string(action)),
		zap.Int64("affected", n))
	return n, nil
}

func (r *AuditRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.AuditEvent, error) {
	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "failed to query audit events")
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		event, err := scanAuditEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}
	return events, nil
}

// auditWhere builds the tenant-anchored predicate for an audit filter
func auditWhere(scope tenant.Scope, f models.AuditFilter) (string, []interface{}) {
	conds := []string{"org_id = $1"}
	args := []interface{}{scope.OrgID()}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.ActorID != nil {
		add("actor_id = $%d", *f.ActorID)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}
	if f.Action != nil {
		add("action = $%d", string(*f.Action))
	}
	if f.TargetType != nil {
		add("target_type = $%d", f.TargetType.String())
	}
	if f.Severity != nil {
		add("severity = $%d", string(*f.Severity))
	}
	if f.Outcome != nil {
		add("outcome = $%d", string(*f.Outcome))
	}
	if f.IPAddress != nil {
		add("ip_address = $%d", *f.IPAddress)
	}
	if f.Search != nil {
		add(`(actor_email ILIKE $%[1]d OR target_id::text ILIKE $%[1]d OR request_id ILIKE $%[1]d)`, likePattern(*f.Search))
	}
	return strings.Join(conds, " AND "), args
}

// likePattern escapes LIKE wildcards in s and wraps it for a substring match
func likePattern(s string) string {
	s = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	return "%" + s + "%"
}

// Counts groups recent events by action, severity and outcome
func (r *AuditRepository) Counts(ctx context.Context, since time.Time) ([]models.AuditCount, error) {
	query := `
		SELECT action, severity, outcome, COUNT(*)
		FROM audit_events
		WHERE org_id = $1 AND created_at >= $2
		GROUP BY action, severity, outcome
		ORDER BY action, severity, outcome
	`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, r.scope.OrgID(), since)
	if err != nil {
		return nil, mapError(err, "failed to count audit events")
	}
	defer rows.Close()

	var counts []models.AuditCount
	for rows.Next() {
		var (
			c                        models.AuditCount
			action, severity, result string
		)
		if err := rows.Scan(&action, &severity, &result, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan audit count: %w", err)
		}
		c.Action = models.AuditAction(action)
		c.Severity = models.Severity(severity)
		c.Outcome = models.Outcome(result)
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit counts: %w", err)
	}
	return counts, nil
}

// FilterOptions returns the distinct values present in the tenant's trail
func (r *AuditRepository) FilterOptions(ctx context.Context, maxActors int) (*models.AuditFilterOptions, error) {
	executor := GetExecutor(ctx, r.db)
	opts := &models.AuditFilterOptions{
		Actors:      []models.AuditActorOption{},
		Actions:     []models.AuditAction{},
		TargetTypes: []models.EntityType{},
		Severities:  models.Severities(),
		Outcomes:    models.Outcomes(),
	}

	actorQuery := `
		SELECT DISTINCT ON (actor_id) actor_id, COALESCE(actor_email, '')
		FROM audit_events
		WHERE org_id = $1 AND actor_id IS NOT NULL
		ORDER BY actor_id, created_at DESC
		LIMIT $2
	`
	rows, err := executor.QueryContext(ctx, actorQuery, r.scope.OrgID(), maxActors)
	if err != nil {
		return nil, mapError(err, "failed to list audit actors")
	}
	defer rows.Close()
	for rows.Next() {
		var actor models.AuditActorOption
		if err := rows.Scan(&actor.ID, &actor.Email); err != nil {
			return nil, fmt.Errorf("failed to scan audit actor: %w", err)
		}
		opts.Actors = append(opts.Actors, actor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit actors: %w", err)
	}

	actions, err := r.distinct(ctx, "action")
	if err != nil {
		return nil, err
	}
	for _, a := range actions {
		opts.Actions = append(opts.Actions, models.AuditAction(a))
	}

	targetTypes, err := r.distinct(ctx, "target_type")
	if err != nil {
		return nil, err
	}
	for _, name := range targetTypes {
		t, err := models.ParseEntityType(name)
		if err != nil {
			r.logger.Warn("skipping unknown audit target type", zap.String("target_type", name))
			continue
		}
		opts.TargetTypes = append(opts.TargetTypes, t)
	}
	return opts, nil
}

// distinct returns the sorted distinct values of a text column; column is
// always a literal from this file
func (r *AuditRepository) distinct(ctx context.Context, column string) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT %[1]s FROM audit_events WHERE org_id = $1 ORDER BY %[1]s`, column)

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, r.scope.OrgID())
	if err != nil {
		return nil, mapError(err, "failed to list distinct audit "+column)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan audit %s: %w", column, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit %s: %w", column, err)
	}
	return values, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditEvent(row rowScanner) (*models.AuditEvent, error) {
	var (
		event                           models.AuditEvent
		actorID                         uuid.NullUUID
		actorEmail, ip, ua, requestID   sql.NullString
		action, targetType, sev, result string
		targetID                        uuid.UUID
		before, after, metadata         []byte
	)

	err := row.Scan(
		&event.ID,
		&event.OrgID,
		&actorID,
		&actorEmail,
		&action,
		&targetType,
		&targetID,
		&before,
		&after,
		&sev,
		&result,
		&metadata,
		&ip,
		&ua,
		&requestID,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entityType, err := models.ParseEntityType(targetType)
	if err != nil {
		return nil, err
	}

	if actorID.Valid {
		id := actorID.UUID
		event.ActorID = &id
	}
	event.ActorEmail = actorEmail.String
	event.Action = models.AuditAction(action)
	event.Target = models.NewEntityRef(entityType, targetID)
	event.Before = json.RawMessage(before)
	event.After = json.RawMessage(after)
	event.Severity = models.Severity(sev)
	event.Outcome = models.Outcome(result)
	event.Metadata = json.RawMessage(metadata)
	event.IPAddress = ip.String
	event.UserAgent = ua.String
	event.RequestID = requestID.String
	return &event, nil
}

func nullUUID(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
