package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/repositories"
	"github.com/upb/staffing-erp/tenant"
	"go.uber.org/zap"
)

// WebhookSubscriptionRepository implements the repositories.WebhookSubscriptionRepository interface
type WebhookSubscriptionRepository struct {
	db     *DB
	scope  tenant.Scope
	logger *zap.Logger
}

// NewWebhookSubscriptionRepository creates a subscription repository bound to one tenant
func NewWebhookSubscriptionRepository(db *DB, scope tenant.Scope, logger *zap.Logger) repositories.WebhookSubscriptionRepository {
	return &WebhookSubscriptionRepository{db: db, scope: scope, logger: logger}
}

const subscriptionColumns = `id, org_id, url, description, event_types, secret, status,
	max_retries, backoff_strategy, base_delay_ms, max_delay_ms, jitter_percent,
	consecutive_failures, last_success_at, last_failure_at, created_at, updated_at`

// Create inserts a new subscription
func (r *WebhookSubscriptionRepository) Create(ctx context.Context, sub *models.WebhookSubscription) error {
	sub.OrgID = r.scope.OrgID()
	query := `
		INSERT INTO webhook_subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		sub.ID,
		sub.OrgID,
		sub.URL,
		sub.Description,
		pq.Array(sub.EventTypes),
		sub.Secret,
		string(sub.Status),
		sub.RetryPolicy.MaxRetries,
		string(sub.RetryPolicy.Strategy),
		sub.RetryPolicy.BaseDelay.Milliseconds(),
		sub.RetryPolicy.MaxDelay.Milliseconds(),
		sub.RetryPolicy.JitterPercent,
		sub.ConsecutiveFailures,
		nullTime(sub.LastSuccessAt),
		nullTime(sub.LastFailureAt),
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "failed to create webhook subscription")
	}

	r.logger.Info("webhook subscription created",
		zap.String("id", sub.ID.String()),
		zap.String("org_id", sub.OrgID.String()))
	return nil
}

// GetByID retrieves a subscription
func (r *WebhookSubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions WHERE org_id = $1 AND id = $2`

	sub, err := scanSubscription(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, r.scope.OrgID(), id))
	if err != nil {
		return nil, mapError(err, "failed to get webhook subscription")
	}
	return sub, nil
}

// List returns every subscription of the tenant
func (r *WebhookSubscriptionRepository) List(ctx context.Context) ([]*models.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions WHERE org_id = $1 ORDER BY created_at DESC`
	return r.query(ctx, query, r.scope.OrgID())
}

// ListActiveForEvent returns active subscriptions listening to eventType or "*"
func (r *WebhookSubscriptionRepository) ListActiveForEvent(ctx context.Context, eventType string) ([]*models.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions
		WHERE org_id = $1 AND status = $2 AND ($3 = ANY(event_types) OR $4 = ANY(event_types))
		ORDER BY created_at`
	return r.query(ctx, query, r.scope.OrgID(), string(models.SubscriptionActive), eventType, models.WildcardEvent)
}

// Update replaces url, description, event types and retry policy
func (r *WebhookSubscriptionRepository) Update(ctx context.Context, sub *models.WebhookSubscription) error {
	query := `
		UPDATE webhook_subscriptions
		SET url = $3, description = $4, event_types = $5, max_retries = $6, backoff_strategy = $7,
		    base_delay_ms = $8, max_delay_ms = $9, jitter_percent = $10, updated_at = $11
		WHERE org_id = $1 AND id = $2
	`
	res, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		r.scope.OrgID(),
		sub.ID,
		sub.URL,
		sub.Description,
		pq.Array(sub.EventTypes),
		sub.RetryPolicy.MaxRetries,
		string(sub.RetryPolicy.Strategy),
		sub.RetryPolicy.BaseDelay.Milliseconds(),
		sub.RetryPolicy.MaxDelay.Milliseconds(),
		sub.RetryPolicy.JitterPercent,
		sub.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "failed to update webhook subscription")
	}
	return expectOne(res, "failed to update webhook subscription")
}

// UpdateStatus sets the subscription status. Re-activating clears the failure counter.
func (r *WebhookSubscriptionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.SubscriptionStatus) error {
	query := `
		UPDATE webhook_subscriptions
		SET status = $3,
		    consecutive_failures = CASE WHEN $3 = 'active' THEN 0 ELSE consecutive_failures END,
		    updated_at = now()
		WHERE org_id = $1 AND id = $2
	`
	res, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, r.scope.OrgID(), id, string(status))
	if err != nil {
		return mapError(err, "failed to update webhook subscription status")
	}
	return expectOne(res, "failed to update webhook subscription status")
}

// UpdateSecret replaces the signing secret
func (r *WebhookSubscriptionRepository) UpdateSecret(ctx context.Context, id uuid.UUID, secret string) error {
	res, err := GetExecutor(ctx, r.db).ExecContext(ctx,
		`UPDATE webhook_subscriptions SET secret = $3, updated_at = now() WHERE org_id = $1 AND id = $2`,
		r.scope.OrgID(), id, secret)
	if err != nil {
		return mapError(err, "failed to rotate webhook secret")
	}
	return expectOne(res, "failed to rotate webhook secret")
}

// RecordSuccess resets the consecutive failure counter
func (r *WebhookSubscriptionRepository) RecordSuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := GetExecutor(ctx, r.db).ExecContext(ctx,
		`UPDATE webhook_subscriptions SET consecutive_failures = 0, last_success_at = $3, updated_at = $3
		 WHERE org_id = $1 AND id = $2`,
		r.scope.OrgID(), id, at)
	if err != nil {
		return mapError(err, "failed to record webhook success")
	}
	return expectOne(res, "failed to record webhook success")
}

// RecordFailure increments the consecutive failure counter and returns the new value
func (r *WebhookSubscriptionRepository) RecordFailure(ctx context.Context, id uuid.UUID, at time.Time) (int, error) {
	var failures int
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx,
		`UPDATE webhook_subscriptions
		 SET consecutive_failures = consecutive_failures + 1, last_failure_at = $3, updated_at = $3
		 WHERE org_id = $1 AND id = $2
		 RETURNING consecutive_failures`,
		r.scope.OrgID(), id, at).Scan(&failures)
	if err != nil {
		return 0, mapError(err, "failed to record webhook failure")
	}
	return failures, nil
}

func (r *WebhookSubscriptionRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.WebhookSubscription, error) {
	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "failed to query webhook subscriptions")
	}
	defer rows.Close()

	var subs []*models.WebhookSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook subscriptions: %w", err)
	}
	return subs, nil
}

func scanSubscription(row rowScanner) (*models.WebhookSubscription, error) {
	var (
		sub                   models.WebhookSubscription
		status, strategy      string
		baseDelayMs, maxDelay int64
	)
	if err := row.Scan(
		&sub.ID,
		&sub.OrgID,
		&sub.URL,
		&sub.Description,
		pq.Array(&sub.EventTypes),
		&sub.Secret,
		&status,
		&sub.RetryPolicy.MaxRetries,
		&strategy,
		&baseDelayMs,
		&maxDelay,
		&sub.RetryPolicy.JitterPercent,
		&sub.ConsecutiveFailures,
		&sub.LastSuccessAt,
		&sub.LastFailureAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sub.Status = models.SubscriptionStatus(status)
	sub.RetryPolicy.Strategy = models.BackoffStrategy(strategy)
	sub.RetryPolicy.BaseDelay = time.Duration(baseDelayMs) * time.Millisecond
	sub.RetryPolicy.MaxDelay = time.Duration(maxDelay) * time.Millisecond
	return &sub, nil
}
