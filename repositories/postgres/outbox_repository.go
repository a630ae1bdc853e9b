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

// OutboxWriter implements repositories.OutboxWriter for one tenant
type OutboxWriter struct {
	db    *DB
	scope tenant.Scope
}

// NewOutboxWriter creates an outbox writer bound to one tenant
func NewOutboxWriter(db *DB, scope tenant.Scope) repositories.OutboxWriter {
	return &OutboxWriter{db: db, scope: scope}
}

// Enqueue inserts a message. Callers run it in the same transaction as the
// delivery row it points at.
func (w *OutboxWriter) Enqueue(ctx context.Context, msg *models.OutboxMessage) error {
	msg.OrgID = w.scope.OrgID()
	_, err := GetExecutor(ctx, w.db).ExecContext(ctx,
		`INSERT INTO webhook_outbox (id, org_id, delivery_id, attempt_number, available_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.OrgID, msg.DeliveryID, msg.AttemptNumber, msg.AvailableAt, msg.CreatedAt)
	if err != nil {
		return mapError(err, "failed to enqueue outbox message")
	}
	return nil
}

// OutboxQueue implements repositories.OutboxQueue
type OutboxQueue struct {
	db     *DB
	logger *zap.Logger
	now    func() time.Time
}

// NewOutboxQueue creates the consumer side of the outbox
func NewOutboxQueue(db *DB, logger *zap.Logger) repositories.OutboxQueue {
	return &OutboxQueue{db: db, logger: logger, now: time.Now}
}

// ClaimBatch leases up to limit due messages. Rows locked by another
// consumer are skipped, and a lease that expires makes the row claimable again.
func (q *OutboxQueue) ClaimBatch(ctx context.Context, limit int, lease time.Duration) ([]*models.OutboxMessage, error) {
	now := q.now().UTC()
	query := `
		UPDATE webhook_outbox o
		SET locked_until = $2
		FROM (
			SELECT id FROM webhook_outbox
			WHERE processed_at IS NULL
			  AND available_at <= $1
			  AND (locked_until IS NULL OR locked_until < $1)
			ORDER BY available_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		) due
		WHERE o.id = due.id
		RETURNING o.id, o.org_id, o.delivery_id, o.attempt_number, o.available_at, o.locked_until, o.created_at
	`

	rows, err := GetExecutor(ctx, q.db).QueryContext(ctx, query, now, now.Add(lease), limit)
	if err != nil {
		return nil, mapError(err, "failed to claim outbox messages")
	}
	defer rows.Close()

	var msgs []*models.OutboxMessage
	for rows.Next() {
		var m models.OutboxMessage
		if err := rows.Scan(&m.ID, &m.OrgID, &m.DeliveryID, &m.AttemptNumber, &m.AvailableAt, &m.LockedUntil, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox messages: %w", err)
	}

	if len(msgs) > 0 {
		q.logger.Debug("outbox messages claimed", zap.Int("count", len(msgs)))
	}
	return msgs, nil
}

// Complete marks a message processed
func (q *OutboxQueue) Complete(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := GetExecutor(ctx, q.db).ExecContext(ctx,
		`UPDATE webhook_outbox SET processed_at = $2, locked_until = NULL WHERE id = $1 AND processed_at IS NULL`,
		id, at)
	if err != nil {
		return mapError(err, "failed to complete outbox message")
	}
	return expectOne(res, "failed to complete outbox message")
}
