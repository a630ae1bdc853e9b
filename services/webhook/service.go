package webhook

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/repositories"
	"github.com/upb/staffing-erp/services"
	"github.com/upb/staffing-erp/services/audit"
	"github.com/upb/staffing-erp/tenant"
	"go.uber.org/zap"
)

// Service manages webhook subscriptions, deliveries and the dead letter queue
type Service struct {
	store  repositories.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new webhook Service
func NewService(store repositories.Store, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SubscriptionInput carries the editable fields of a subscription
type SubscriptionInput struct {
	URL         string
	Description string
	EventTypes  []string
	RetryPolicy *models.RetryPolicy
}

func (in SubscriptionInput) validate() error {
	u, err := url.ParseRequestURI(in.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return services.Validation("url", "url must be an absolute http or https URL")
	}
	if len(in.EventTypes) == 0 {
		return services.Validation("event_types", "at least one event type is required")
	}
	for _, t := range in.EventTypes {
		if t == "" {
			return services.Validation("event_types", "event types cannot be empty")
		}
	}
	if in.RetryPolicy != nil {
		if err := in.RetryPolicy.Validate(); err != nil {
			return services.ErrInvalidRetryPolicy.WithDetail("reason", err.Error())
		}
	}
	return nil
}

// Publish records one pending delivery and one outbox message per active
// subscription listening to eventType. It runs in the caller's transaction,
// through the caller's tenant repositories.
func (s *Service) Publish(ctx context.Context, repos *repositories.Repositories, eventType string, data interface{}) ([]*models.WebhookDelivery, error) {
	if eventType == "" {
		return nil, services.Validation("event_type", "event type is required")
	}
	subs, err := repos.Subscriptions.ListActiveForEvent(ctx, eventType)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrSubscriptionNotFound, "failed to list webhook subscriptions")
	}
	if len(subs) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, services.WrapInternal("failed to encode webhook payload", err)
	}

	deliveries := make([]*models.WebhookDelivery, 0, len(subs))
	for _, sub := range subs {
		d, err := s.enqueue(ctx, repos, sub.ID, eventType, payload, nil)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}

	s.logger.Debug("webhook event published",
		zap.String("org_id", repos.Scope.OrgID().String()),
		zap.String("event_type", eventType),
		zap.Int("deliveries", len(deliveries)))
	return deliveries, nil
}

func (s *Service) enqueue(ctx context.Context, repos *repositories.Repositories, subscriptionID uuid.UUID, eventType string, payload json.RawMessage, replayedFrom *uuid.UUID) (*models.WebhookDelivery, error) {
	now := s.now()
	d := models.NewWebhookDelivery(repos.Scope.OrgID(), subscriptionID, eventType, payload)
	d.ReplayedFrom = replayedFrom
	d.CreatedAt = now
	d.UpdatedAt = now

	if err := repos.Deliveries.Create(ctx, d); err != nil {
		return nil, services.FromRepository(err, services.ErrDeliveryNotFound, "failed to create webhook delivery")
	}
	if err := repos.Outbox.Enqueue(ctx, models.NewOutboxMessage(d, now)); err != nil {
		return nil, services.FromRepository(err, services.ErrDeliveryNotFound, "failed to enqueue webhook delivery")
	}
	return d, nil
}

func (s *Service) record(ctx context.Context, repos *repositories.Repositories, actor models.Actor, action models.AuditAction, target models.EntityRef, severity models.Severity, before, after interface{}) error {
	return audit.Record(ctx, repos, models.NewAuditEvent(repos.Scope.OrgID(), action, target).
		By(actor).
		WithSeverity(severity).
		WithChange(before, after))
}

// ListSubscriptions returns every subscription of the tenant, newest first
func (s *Service) ListSubscriptions(ctx context.Context, scope tenant.Scope) ([]*models.WebhookSubscription, error) {
	subs, err := s.store.ForTenant(scope).Subscriptions.List(ctx)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrSubscriptionNotFound, "failed to list webhook subscriptions")
	}
	if subs == nil {
		subs = []*models.WebhookSubscription{}
	}
	return subs, nil
}

// GetSubscription returns one subscription of the tenant
func (s *Service) GetSubscription(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*models.WebhookSubscription, error) {
	sub, err := s.store.ForTenant(scope).Subscriptions.GetByID(ctx, id)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrSubscriptionNotFound, "failed to get webhook subscription")
	}
	return sub, nil
}

// CreateSubscription registers a subscription and returns it with its
// signing secret, which is not retrievable afterwards
func (s *Service) CreateSubscription(ctx context.Context, scope tenant.Scope, actor models.Actor, in SubscriptionInput) (*models.WebhookSubscription, string, error) {
	if err := in.validate(); err != nil {
		return nil, "", err
	}
	secret, err := NewSecret()
	if err != nil {
		return nil, "", services.WrapInternal("failed to generate webhook secret", err)
	}

	now := s.now()
	policy := models.DefaultRetryPolicy()
	if in.RetryPolicy != nil {
		policy = *in.RetryPolicy
	}
	sub := &models.WebhookSubscription{
		ID:          uuid.New(),
		OrgID:       scope.OrgID(),
		URL:         in.URL,
		Description: in.Description,
		EventTypes:  in.EventTypes,
		Secret:      secret,
		Status:      models.SubscriptionActive,
		RetryPolicy: policy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = services.WithTransaction(ctx, s.store.Transactions(), func(ctx context.Context) error {
		repos := s.store.ForTenant(scope)
		if err := repos.Subscriptions.Create(ctx, sub); err != nil {
			return services.FromRepository(err, services.ErrSubscriptionNotFound, "failed to create webhook subscription")
		}
		return s.record(ctx, repos, actor, models.AuditActionCreate,
			models.NewEntityRef(models.EntityWebhookSubscription, sub.ID), models.SeverityMedium, nil, sub)
	})
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("webhook subscription created",
		zap.String("org_id", scope.OrgID().String()),
		zap.String("subscription_id", sub.ID.String()))
	return sub, secret, nil
}

// UpdateSubscription replaces the editable fields of a subscription
func (s *Service) UpdateSubscription(ctx context.Context, scope tenant.Scope, actor models.Actor, id uuid.UUID, in SubscriptionInput) (*models.WebhookSubscription, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	return services.WithTransactionResult(ctx, s.store.Transactions(), func(ctx context.Context) (*models.WebhookSubscription, error) {
		repos := s.store.ForTenant(scope)
		sub, err := repos.Subscriptions.GetByID(ctx, id)
		if err != nil {
			return nil, services.FromRepository(err, services.ErrSubscriptionNotFound, "failed to get webhook subscription")
		}
		before := *sub

		sub.URL = in.URL
		sub.Description = in.Description
		sub.EventTypes = in.EventTypes
		if in.RetryPolicy != nil {
			sub.RetryPolicy = *in.RetryPolicy
		}
		sub.UpdatedAt = s.now()

		if err := repos.Subscriptions.Update(ctx, sub); err != nil {
			return nil, services.FromRepository(err, services.ErrSubscriptionNotFound, "failed to update webhook subscription")
		}
		if err := s.record(ctx, repos, actor, models.AuditActionUpdate,
			models.NewEntityRef(models.EntityWebhookSubscription, id), models.SeverityMedium, before, sub); err != nil {
			return nil, err
		}
		return sub, nil
	})
}

// DeleteSubscription deactivates a subscription; its deliveries are kept
func (s *Service) DeleteSubscription(ctx context.Context, scope tenant.Scope, actor models.Actor, id uuid.UUID) error {
	return s.changeStatus(ctx, scope, actor, id, models.SubscriptionInactive, models.AuditActionDelete)
}

// SetStatus moves a subscription to active, inactive or disabled
func (s *Service) SetStatus(ctx context.Context, scope tenant.Scope, actor models.Actor, id uuid.UUID, status models.SubscriptionStatus) error {
	if !status.Valid() {
		return services.Validation("status", "status must be active, inactive or disabled")
	}
	return s.changeStatus(ctx, scope, actor, id, status, models.AuditActionStatusChange)
}

func (s *Service) changeStatus(ctx context.Context, scope tenant.Scope, actor models.Actor, id uuid.UUID, status models.SubscriptionStatus, action models.AuditAction) error {
	return services.WithTransaction(ctx, s.store.Transactions(), func(ctx context.Context) error {
		repos := s.store.ForTenant(scope)
		sub, err := repos.Subscriptions.GetByID(ctx, id)
		if err != nil {
			return services.FromRepository(err, services.ErrSubscriptionNotFound, "failed to get webhook subscription")
		}
		if err := repos.Subscriptions.UpdateStatus(ctx, id, status); err != nil {
			return services.FromRepository(err, services.ErrSubscriptionNotFound, "failed to update webhook subscription status")
		}
		return s.record(ctx, repos, actor, action,
			models.NewEntityRef(models.EntityWebhookSubscription, id), models.SeverityMedium,
			map[string]interface{}{"status": sub.Status},
			map[string]interface{}{"status": status})
	})
}

// RotateSecret replaces the signing secret and returns the new one
func (s *Service) RotateSecret(ctx context.Context, scope tenant.Scope, actor models.Actor, id uuid.UUID) (string, error) {
	secret, err := NewSecret()
	if err != nil {
		return "", services.WrapInternal("failed to generate webhook secret", err)
	}

	err = services.WithTransaction(ctx, s.store.Transactions(), func(ctx context.Context) error {
		repos := s.store.ForTenant(scope)
		if err := repos.Subscriptions.UpdateSecret(ctx, id, secret); err != nil {
			return services.FromRepository(err, services.ErrSubscriptionNotFound, "failed to rotate webhook secret")
		}
		return s.record(ctx, repos, actor, models.AuditActionRotateSecret,
			models.NewEntityRef(models.EntityWebhookSubscription, id), models.SeverityHigh, nil, nil)
	})
	if err != nil {
		return "", err
	}
	return secret, nil
}

// SendTest queues a synthetic webhook.test delivery to the subscription
func (s *Service) SendTest(ctx context.Context, scope tenant.Scope, actor models.Actor, id uuid.UUID) (*models.WebhookDelivery, error) {
	return services.WithTransactionResult(ctx, s.store.Transactions(), func(ctx context.Context) (*models.WebhookDelivery, error) {
		repos := s.store.ForTenant(scope)
		sub, err := repos.Subscriptions.GetByID(ctx, id)
		if err != nil {
			return nil, services.FromRepository(err, services.ErrSubscriptionNotFound, "failed to get webhook subscription")
		}

		payload, err := json.Marshal(map[string]interface{}{
			"subscription_id": sub.ID,
			"message":         "This is a test webhook delivery",
		})
		if err != nil {
			return nil, services.WrapInternal("failed to encode webhook payload", err)
		}

		d, err := s.enqueue(ctx, repos, sub.ID, models.TestEventType, payload, nil)
		if err != nil {
			return nil, err
		}
		if err := s.record(ctx, repos, actor, models.AuditActionTest,
			models.NewEntityRef(models.EntityWebhookSubscription, id), models.SeverityLow, nil, nil); err != nil {
			return nil, err
		}
		return d, nil
	})
}

// ListDeliveries returns one page of deliveries, newest first
func (s *Service) ListDeliveries(ctx context.Context, scope tenant.Scope, filter models.DeliveryFilter, page services.PageRequest) (*models.Page[*models.WebhookDelivery], error) {
	page, err := page.Normalize()
	if err != nil {
		return nil, err
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, services.Validation("status", "unknown delivery status")
	}

	deliveries, total, err := s.store.ForTenant(scope).Deliveries.List(ctx, filter, page.Limit(), page.Offset())
	if err != nil {
		return nil, services.FromRepository(err, services.ErrDeliveryNotFound, "failed to list webhook deliveries")
	}
	if deliveries == nil {
		deliveries = []*models.WebhookDelivery{}
	}
	return &models.Page[*models.WebhookDelivery]{
		Items:      deliveries,
		Pagination: models.NewPagination(total, page.Page, page.PageSize),
	}, nil
}

// GetDelivery returns one delivery of the tenant
func (s *Service) GetDelivery(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*models.WebhookDelivery, error) {
	d, err := s.store.ForTenant(scope).Deliveries.GetByID(ctx, id)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrDeliveryNotFound, "failed to get webhook delivery")
	}
	return d, nil
}

// Replay queues a new pending delivery on attempt 1 carrying the original
// payload. The original delivery is left untouched.
func (s *Service) Replay(ctx context.Context, scope tenant.Scope, actor models.Actor, id uuid.UUID) (*models.WebhookDelivery, error) {
	return services.WithTransactionResult(ctx, s.store.Transactions(), func(ctx context.Context) (*models.WebhookDelivery, error) {
		repos := s.store.ForTenant(scope)
		original, err := repos.Deliveries.GetByID(ctx, id)
		if err != nil {
			return nil, services.FromRepository(err, services.ErrDeliveryNotFound, "failed to get webhook delivery")
		}

		originalID := original.ID
		d, err := s.enqueue(ctx, repos, original.SubscriptionID, original.EventType, original.Payload, &originalID)
		if err != nil {
			return nil, err
		}
		if err := s.record(ctx, repos, actor, models.AuditActionReplay,
			models.NewEntityRef(models.EntityWebhookDelivery, original.ID), models.SeverityLow,
			nil, map[string]interface{}{"replay_id": d.ID}); err != nil {
			return nil, err
		}
		return d, nil
	})
}

// ListDLQ returns one page of dead-lettered deliveries
func (s *Service) ListDLQ(ctx context.Context, scope tenant.Scope, subscriptionID *uuid.UUID, page services.PageRequest) (*models.Page[*models.WebhookDelivery], error) {
	status := models.DeliveryDLQ
	return s.ListDeliveries(ctx, scope, models.DeliveryFilter{SubscriptionID: subscriptionID, Status: &status}, page)
}

// RetryDLQ moves a dead-lettered delivery back to pending on attempt 1 and
// queues it
func (s *Service) RetryDLQ(ctx context.Context, scope tenant.Scope, actor models.Actor, id uuid.UUID) (*models.WebhookDelivery, error) {
	return services.WithTransactionResult(ctx, s.store.Transactions(), func(ctx context.Context) (*models.WebhookDelivery, error) {
		repos := s.store.ForTenant(scope)
		now := s.now()

		d, err := repos.Deliveries.ResetFromDLQ(ctx, id, now)
		if err != nil {
			return nil, services.FromRepository(err, services.ErrDeliveryNotFound, "failed to retry webhook delivery")
		}
		if err := repos.Outbox.Enqueue(ctx, models.NewOutboxMessage(d, now)); err != nil {
			return nil, services.FromRepository(err, services.ErrDeliveryNotFound, "failed to enqueue webhook delivery")
		}
		if err := s.record(ctx, repos, actor, models.AuditActionRetry,
			models.NewEntityRef(models.EntityWebhookDelivery, id), models.SeverityLow,
			map[string]interface{}{"status": models.DeliveryDLQ},
			map[string]interface{}{"status": d.Status}); err != nil {
			return nil, err
		}
		return d, nil
	})
}

// ClearDLQ moves one dead-lettered delivery to failed
func (s *Service) ClearDLQ(ctx context.Context, scope tenant.Scope, actor models.Actor, id uuid.UUID) error {
	return services.WithTransaction(ctx, s.store.Transactions(), func(ctx context.Context) error {
		repos := s.store.ForTenant(scope)
		if err := repos.Deliveries.MarkFailed(ctx, id, s.now()); err != nil {
			return services.FromRepository(err, services.ErrDeliveryNotFound, "failed to clear webhook delivery")
		}
		return s.record(ctx, repos, actor, models.AuditActionClear,
			models.NewEntityRef(models.EntityWebhookDelivery, id), models.SeverityLow,
			map[string]interface{}{"status": models.DeliveryDLQ},
			map[string]interface{}{"status": models.DeliveryFailed})
	})
}

// ClearAllDLQ moves every dead-lettered delivery, optionally of one
// subscription, to failed and returns how many were cleared
func (s *Service) ClearAllDLQ(ctx context.Context, scope tenant.Scope, actor models.Actor, subscriptionID *uuid.UUID) (int64, error) {
	return services.WithTransactionResult(ctx, s.store.Transactions(), func(ctx context.Context) (int64, error) {
		repos := s.store.ForTenant(scope)
		target := models.NewEntityRef(models.EntityOrganization, scope.OrgID())
		if subscriptionID != nil {
			if _, err := repos.Subscriptions.GetByID(ctx, *subscriptionID); err != nil {
				return 0, services.FromRepository(err, services.ErrSubscriptionNotFound, "failed to get webhook subscription")
			}
			target = models.NewEntityRef(models.EntityWebhookSubscription, *subscriptionID)
		}

		n, err := repos.Deliveries.MarkAllFailed(ctx, subscriptionID, s.now())
		if err != nil {
			return 0, services.FromRepository(err, services.ErrDeliveryNotFound, "failed to clear webhook dead letter queue")
		}
		event := models.NewAuditEvent(scope.OrgID(), models.AuditActionClear, target).
			By(actor).
			WithSeverity(models.SeverityMedium).
			WithMetadata(map[string]interface{}{"cleared": n})
		if err := audit.Record(ctx, repos, event); err != nil {
			return 0, err
		}
		return n, nil
	})
}
