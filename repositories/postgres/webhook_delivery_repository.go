package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/repositories"
	"github.com/upb/staffing-erp/tenant"
	"go.uber.org/zap"
)

// WebhookDeliveryRepository implements the repositories.WebhookDeliveryRepository interface
type WebhookDeliveryRepository struct {
	db     *DB
	scope  tenant.Scope
	logger *zap.Logger
}

// NewWebhookDeliveryRepository creates a delivery repository bound to one tenant
func NewWebhookDeliveryRepository(db *DB, scope tenant.Scope, logger *zap.Logger) repositories.WebhookDeliveryRepository {
	return &WebhookDeliveryRepository{db: db, scope: scope, logger: logger}
}

const deliveryColumns = `id, org_id, subscription_id, event_type, payload, status, attempt_number,
	next_retry_at, response_status, response_body, error_message, duration_ms, replayed_from,
	last_attempt_at, delivered_at, created_at, updated_at`

// Create inserts a new delivery
func (r *WebhookDeliveryRepository) Create(ctx context.Context, d *models.WebhookDelivery) error {
	d.OrgID = r.scope.OrgID()
	query := `
		INSERT INTO webhook_deliveries (` + deliveryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		d.ID,
		d.OrgID,
		d.SubscriptionID,
		d.EventType,
		[]byte(d.Payload),
		string(d.Status),
		d.AttemptNumber,
		nullTime(d.NextRetryAt),
		nullInt(d.ResponseStatus),
		d.ResponseBody,
		d.ErrorMessage,
		nullInt(d.DurationMs),
		nullUUID(d.ReplayedFrom),
		nullTime(d.LastAttemptAt),
		nullTime(d.DeliveredAt),
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "failed to create webhook delivery")
	}
	return nil
}

// GetByID retrieves a delivery
func (r *WebhookDeliveryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE org_id = $1 AND id = $2`

	d, err := scanDelivery(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, r.scope.OrgID(), id))
	if err != nil {
		return nil, mapError(err, "failed to get webhook delivery")
	}
	return d, nil
}

// List returns one page of deliveries, newest first, and the filtered total
func (r *WebhookDeliveryRepository) List(ctx context.Context, filter models.DeliveryFilter, limit, offset int) ([]*models.WebhookDelivery, int, error) {
	conds := []string{"org_id = $1"}
	args := []interface{}{r.scope.OrgID()}
	if filter.SubscriptionID != nil {
		args = append(args, *filter.SubscriptionID)
		conds = append(conds, fmt.Sprintf("subscription_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.EventType != "" {
		args = append(args, filter.EventType)
		conds = append(conds, fmt.Sprintf("event_type = $%d", len(args)))
	}
	where := strings.Join(conds, " AND ")
	executor := GetExecutor(ctx, r.db)

	var total int
	if err := executor.QueryRowContext(ctx, `SELECT COUNT(*) FROM webhook_deliveries WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "failed to count webhook deliveries")
	}

	query := fmt.Sprintf(`SELECT %s FROM webhook_deliveries WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		deliveryColumns, where, len(args)+1, len(args)+2)
	rows, err := executor.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, mapError(err, "failed to list webhook deliveries")
	}
	defer rows.Close()

	var deliveries []*models.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan webhook delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating webhook deliveries: %w", err)
	}
	return deliveries, total, nil
}

// Transition persists the attempt outcome held in d while the stored row
// still has fromStatus and fromAttempt
func (r *WebhookDeliveryRepository) Transition(ctx context.Context, d *models.WebhookDelivery, fromStatus models.DeliveryStatus, fromAttempt int) error {
	query := `
		UPDATE webhook_deliveries
		SET status = $3, attempt_number = $4, next_retry_at = $5, response_status = $6,
		    response_body = $7, error_message = $8, duration_ms = $9, last_attempt_at = $10,
		    delivered_at = $11, updated_at = $12
		WHERE org_id = $1 AND id = $2 AND status = $13 AND attempt_number = $14
	`
	res, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		r.scope.OrgID(),
		d.ID,
		string(d.Status),
		d.AttemptNumber,
		nullTime(d.NextRetryAt),
		nullInt(d.ResponseStatus),
		d.ResponseBody,
		d.ErrorMessage,
		nullInt(d.DurationMs),
		nullTime(d.LastAttemptAt),
		nullTime(d.DeliveredAt),
		d.UpdatedAt,
		string(fromStatus),
		fromAttempt,
	)
	if err != nil {
		return mapError(err, "failed to transition webhook delivery")
	}
	return r.checkConditional(ctx, res, d.ID, "failed to transition webhook delivery")
}

// ResetFromDLQ moves a dlq delivery back to pending on attempt 1
func (r *WebhookDeliveryRepository) ResetFromDLQ(ctx context.Context, id uuid.UUID, at time.Time) (*models.WebhookDelivery, error) {
	query := `
		UPDATE webhook_deliveries
		SET status = $3, attempt_number = 1, next_retry_at = NULL, error_message = '', updated_at = $4
		WHERE org_id = $1 AND id = $2 AND status = $5
		RETURNING ` + deliveryColumns

	d, err := scanDelivery(GetExecutor(ctx, r.db).QueryRowContext(ctx, query,
		r.scope.OrgID(), id, string(models.DeliveryPending), at, string(models.DeliveryDLQ)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.missingOrStale(ctx, id)
	}
	if err != nil {
		return nil, mapError(err, "failed to reset webhook delivery")
	}
	return d, nil
}

// MarkFailed moves a dlq delivery to the terminal failed state
func (r *WebhookDeliveryRepository) MarkFailed(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := GetExecutor(ctx, r.db).ExecContext(ctx,
		`UPDATE webhook_deliveries SET status = $3, next_retry_at = NULL, updated_at = $4
		 WHERE org_id = $1 AND id = $2 AND status = $5`,
		r.scope.OrgID(), id, string(models.DeliveryFailed), at, string(models.DeliveryDLQ))
	if err != nil {
		return mapError(err, "failed to clear webhook delivery")
	}
	return r.checkConditional(ctx, res, id, "failed to clear webhook delivery")
}

// MarkAllFailed moves every dlq delivery, optionally of one subscription, to failed
func (r *WebhookDeliveryRepository) MarkAllFailed(ctx context.Context, subscriptionID *uuid.UUID, at time.Time) (int64, error) {
	query := `UPDATE webhook_deliveries SET status = $2, next_retry_at = NULL, updated_at = $3
		WHERE org_id = $1 AND status = $4`
	args := []interface{}{r.scope.OrgID(), string(models.DeliveryFailed), at, string(models.DeliveryDLQ)}
	if subscriptionID != nil {
		query += ` AND subscription_id = $5`
		args = append(args, *subscriptionID)
	}

	res, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err, "failed to clear webhook dlq")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read cleared count: %w", err)
	}
	return n, nil
}

// checkConditional maps a zero-row conditional update to NotFound or PreconditionFailed
func (r *WebhookDeliveryRepository) checkConditional(ctx context.Context, res sql.Result, id uuid.UUID, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 1 {
		return nil
	}
	return r.missingOrStale(ctx, id)
}

func (r *WebhookDeliveryRepository) missingOrStale(ctx context.Context, id uuid.UUID) error {
	return rowExists(ctx, GetExecutor(ctx, r.db), `SELECT 1 FROM webhook_deliveries WHERE org_id = $1 AND id = $2`, r.scope.OrgID(), id)
}

// rowExists returns ErrPreconditionFailed when the row exists and ErrNotFound otherwise
func rowExists(ctx context.Context, executor Executor, query string, args ...interface{}) error {
	var one int
	err := executor.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return repositories.ErrNotFound
	case err != nil:
		return fmt.Errorf("failed to check row existence: %w", err)
	default:
		return repositories.ErrPreconditionFailed
	}
}

func scanDelivery(row rowScanner) (*models.WebhookDelivery, error) {
	var (
		d                 models.WebhookDelivery
		status            string
		payload           []byte
		respStatus, durMs sql.NullInt64
		replayedFrom      uuid.NullUUID
	)
	if err := row.Scan(
		&d.ID,
		&d.OrgID,
		&d.SubscriptionID,
		&d.EventType,
		&payload,
		&status,
		&d.AttemptNumber,
		&d.NextRetryAt,
		&respStatus,
		&d.ResponseBody,
		&d.ErrorMessage,
		&durMs,
		&replayedFrom,
		&d.LastAttemptAt,
		&d.DeliveredAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.Payload = payload
	d.Status = models.DeliveryStatus(status)
	if respStatus.Valid {
		v := int(respStatus.Int64)
		d.ResponseStatus = &v
	}
	if durMs.Valid {
		v := int(durMs.Int64)
		d.DurationMs = &v
	}
	if replayedFrom.Valid {
		id := replayedFrom.UUID
		d.ReplayedFrom = &id
	}
	return &d, nil
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return int64(*v)
}
