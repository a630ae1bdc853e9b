package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/upb/staffing-erp/internal/observability"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/repositories"
	"github.com/upb/staffing-erp/services"
	"github.com/upb/staffing-erp/services/audit"
	"github.com/upb/staffing-erp/tenant"
	"go.uber.org/zap"
)

// DispatcherConfig holds configuration for the Dispatcher
type DispatcherConfig struct {
	WorkerCount   int           // Number of concurrent senders
	BatchSize     int           // Outbox messages claimed per poll
	PollInterval  time.Duration // Wait between polls when the outbox is idle
	LeaseDuration time.Duration // How long a claimed message stays invisible to other consumers

	// AutoDisableThreshold disables a subscription once this many deliveries
	// in a row ended in the dead letter queue; 0 turns it off
	AutoDisableThreshold int
}

// DefaultDispatcherConfig returns the default configuration
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		WorkerCount:   4,
		BatchSize:     50,
		PollInterval:  2 * time.Second,
		LeaseDuration: 2 * time.Minute,
	}
}

// Dispatcher consumes the webhook outbox and delivers each claimed attempt
type Dispatcher struct {
	store  repositories.Store
	sender Sender
	logger *zap.Logger
	config DispatcherConfig
	now    func() time.Time
	delay  DelayFunc

	jobs    chan *models.OutboxMessage
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	mu      sync.Mutex
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(store repositories.Store, sender Sender, logger *zap.Logger, config DispatcherConfig) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.LeaseDuration <= 0 {
		config.LeaseDuration = defaults.LeaseDuration
	}

	return &Dispatcher{
		store:  store,
		sender: sender,
		logger: logger,
		config: config,
		now:    func() time.Time { return time.Now().UTC() },
		delay:  JitteredDelay,
	}
}

// Start starts the poller and the worker goroutines
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("webhook dispatcher already started")
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.jobs = make(chan *models.OutboxMessage, d.config.BatchSize)

	for i := 0; i < d.config.WorkerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.wg.Add(1)
	go d.poll()

	d.started = true
	d.logger.Info("started webhook dispatcher",
		zap.Int("worker_count", d.config.WorkerCount),
		zap.Int("batch_size", d.config.BatchSize),
		zap.Duration("poll_interval", d.config.PollInterval))

	return nil
}

// Stop stops polling and waits for in-flight deliveries to finish.
// Messages still queued locally keep their lease and are reclaimed later.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return fmt.Errorf("webhook dispatcher not started")
	}
	d.started = false
	d.mu.Unlock()

	d.logger.Info("stopping webhook dispatcher", zap.Int("queued_messages", len(d.jobs)))
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("webhook dispatcher stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("webhook dispatcher stop timeout after %v", timeout)
	}
}

// Run starts the dispatcher and blocks until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context, stopTimeout time.Duration) error {
	if err := d.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return d.Stop(stopTimeout)
}

// poll claims batches and hands them to the workers
func (d *Dispatcher) poll() {
	defer d.wg.Done()
	defer close(d.jobs)

	for {
		claimed, err := d.store.OutboxQueue().ClaimBatch(d.ctx, d.config.BatchSize, d.config.LeaseDuration)
		if err != nil && d.ctx.Err() == nil {
			d.logger.Error("failed to claim outbox batch", zap.Error(err))
		}
		observability.OutboxClaimed.Add(float64(len(claimed)))

		for _, msg := range claimed {
			select {
			case d.jobs <- msg:
			case <-d.ctx.Done():
				return
			}
		}

		// A full batch suggests more work is due.
		if len(claimed) == d.config.BatchSize {
			continue
		}
		select {
		case <-time.After(d.config.PollInterval):
		case <-d.ctx.Done():
			return
		}
	}
}

// worker delivers messages from the channel
func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	d.logger.Debug("webhook worker started", zap.Int("worker_id", id))

	for msg := range d.jobs {
		if err := d.Process(context.Background(), msg); err != nil {
			d.logger.Error("failed to process outbox message",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("org_id", msg.OrgID.String()),
				zap.String("delivery_id", msg.DeliveryID.String()))
		}
	}

	d.logger.Debug("webhook worker stopped", zap.Int("worker_id", id))
}

// DrainOnce claims one batch and processes it on the calling goroutine.
// It returns the number of messages claimed.
func (d *Dispatcher) DrainOnce(ctx context.Context) (int, error) {
	claimed, err := d.store.OutboxQueue().ClaimBatch(ctx, d.config.BatchSize, d.config.LeaseDuration)
	if err != nil {
		return 0, fmt.Errorf("failed to claim outbox batch: %w", err)
	}
	observability.OutboxClaimed.Add(float64(len(claimed)))

	var errs []error
	for _, msg := range claimed {
		if err := d.Process(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return len(claimed), errors.Join(errs...)
}

// Process performs the attempt an outbox message stands for and records its
// outcome. The delivery transition, the outbox bookkeeping and the
// subscription counters are written in one transaction.
func (d *Dispatcher) Process(ctx context.Context, msg *models.OutboxMessage) error {
	logger := d.logger.With(
		zap.String("org_id", msg.OrgID.String()),
		zap.String("delivery_id", msg.DeliveryID.String()),
		zap.Int("attempt", msg.AttemptNumber))

	scope, err := tenant.NewScope(msg.OrgID)
	if err != nil {
		logger.Warn("outbox message without tenant, dropping")
		return d.complete(ctx, msg)
	}
	repos := d.store.ForTenant(scope)

	delivery, err := repos.Deliveries.GetByID(ctx, msg.DeliveryID)
	if errors.Is(err, repositories.ErrNotFound) {
		logger.Warn("outbox message for missing delivery, dropping")
		return d.complete(ctx, msg)
	}
	if err != nil {
		return fmt.Errorf("failed to load delivery: %w", err)
	}
	if delivery.Status.Terminal() || delivery.AttemptNumber != msg.AttemptNumber {
		logger.Debug("stale outbox message, dropping", zap.String("status", string(delivery.Status)))
		return d.complete(ctx, msg)
	}

	sub, err := repos.Subscriptions.GetByID(ctx, delivery.SubscriptionID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	fromStatus, fromAttempt := delivery.Status, delivery.AttemptNumber
	now := d.now()

	if sub == nil || (sub.Status != models.SubscriptionActive && delivery.EventType != models.TestEventType) {
		if err := Abandon(delivery, "subscription is not active", now); err != nil {
			return err
		}
	} else {
		outcome := d.sender.Send(ctx, Request{
			URL:        sub.URL,
			Secret:     sub.Secret,
			DeliveryID: delivery.ID,
			EventType:  delivery.EventType,
			Test:       delivery.EventType == models.TestEventType,
			Data:       delivery.Payload,
		})
		observability.WebhookDeliveryDuration.Observe(outcome.Duration.Seconds())
		now = d.now()
		if err := Advance(delivery, sub.RetryPolicy, outcome, now, d.delay); err != nil {
			return err
		}
	}

	err = services.WithTransaction(ctx, d.store.Transactions(), func(ctx context.Context) error {
		return d.record(ctx, repos, sub, delivery, msg, fromStatus, fromAttempt, now)
	})
	if errors.Is(err, repositories.ErrPreconditionFailed) {
		logger.Info("delivery advanced by another consumer, dropping")
		return d.complete(ctx, msg)
	}
	if err != nil {
		return err
	}

	observability.WebhookDeliveriesTotal.WithLabelValues(string(delivery.Status)).Inc()
	logger.Info("webhook delivery attempted",
		zap.String("status", string(delivery.Status)),
		zap.Int("next_attempt", delivery.AttemptNumber))
	return nil
}

func (d *Dispatcher) record(ctx context.Context, repos *repositories.Repositories, sub *models.WebhookSubscription, delivery *models.WebhookDelivery, msg *models.OutboxMessage, fromStatus models.DeliveryStatus, fromAttempt int, now time.Time) error {
	if err := repos.Deliveries.Transition(ctx, delivery, fromStatus, fromAttempt); err != nil {
		return err
	}
	if err := d.store.OutboxQueue().Complete(ctx, msg.ID, now); err != nil {
		return err
	}

	switch delivery.Status {
	case models.DeliveryRetrying:
		return repos.Outbox.Enqueue(ctx, models.NewOutboxMessage(delivery, *delivery.NextRetryAt))
	case models.DeliverySuccess:
		return repos.Subscriptions.RecordSuccess(ctx, sub.ID, now)
	case models.DeliveryDLQ:
		failures, err := repos.Subscriptions.RecordFailure(ctx, sub.ID, now)
		if err != nil {
			return err
		}
		return d.maybeDisable(ctx, repos, sub, failures)
	}
	return nil
}

// maybeDisable disables an active subscription whose consecutive dead-lettered
// deliveries reached the configured threshold
func (d *Dispatcher) maybeDisable(ctx context.Context, repos *repositories.Repositories, sub *models.WebhookSubscription, failures int) error {
	threshold := d.config.AutoDisableThreshold
	if threshold <= 0 || failures < threshold || sub.Status != models.SubscriptionActive {
		return nil
	}
	if err := repos.Subscriptions.UpdateStatus(ctx, sub.ID, models.SubscriptionDisabled); err != nil {
		return err
	}

	d.logger.Warn("webhook subscription auto-disabled",
		zap.String("org_id", sub.OrgID.String()),
		zap.String("subscription_id", sub.ID.String()),
		zap.Int("consecutive_failures", failures))

	event := models.NewAuditEvent(repos.Scope.OrgID(), models.AuditActionStatusChange,
		models.NewEntityRef(models.EntityWebhookSubscription, sub.ID)).
		By(models.SystemActor()).
		WithSeverity(models.SeverityHigh).
		WithChange(
			map[string]interface{}{"status": sub.Status},
			map[string]interface{}{"status": models.SubscriptionDisabled}).
		WithMetadata(map[string]interface{}{"reason": "auto_disable", "consecutive_failures": failures})
	return audit.Record(ctx, repos, event)
}

func (d *Dispatcher) complete(ctx context.Context, msg *models.OutboxMessage) error {
	err := d.store.OutboxQueue().Complete(ctx, msg.ID, d.now())
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("failed to complete outbox message: %w", err)
	}
	return nil
}
