package failover

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/repositories"
	"github.com/upb/staffing-erp/services"
	"github.com/upb/staffing-erp/services/audit"
	"github.com/upb/staffing-erp/tenant"
	"go.uber.org/zap"
)

// Service manages primary/backup integration pairs of a tenant
type Service struct {
	store  repositories.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new failover Service
func NewService(store repositories.Store, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ConfigInput carries the editable fields of a failover configuration
type ConfigInput struct {
	IntegrationType  string
	PrimaryProvider  string
	BackupProvider   string
	FailureThreshold int
	AutoFailover     bool
	AutoRecovery     bool
}

func (in ConfigInput) validate() error {
	switch {
	case strings.TrimSpace(in.IntegrationType) == "":
		return services.Validation("integration_type", "integration type is required")
	case strings.TrimSpace(in.PrimaryProvider) == "":
		return services.Validation("primary_provider", "primary provider is required")
	case strings.TrimSpace(in.BackupProvider) == "":
		return services.Validation("backup_provider", "backup provider is required")
	case in.PrimaryProvider == in.BackupProvider:
		return services.Validation("backup_provider", "backup provider must differ from primary provider")
	case in.FailureThreshold < 1:
		return services.Validation("failure_threshold", "failure threshold must be at least 1")
	}
	return nil
}

// List returns every failover configuration of the tenant
func (s *Service) List(ctx context.Context, scope tenant.Scope) ([]*models.FailoverConfig, error) {
	configs, err := s.store.ForTenant(scope).Failover.List(ctx)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrFailoverConfigNotFound, "failed to list failover configurations")
	}
	if configs == nil {
		configs = []*models.FailoverConfig{}
	}
	return configs, nil
}

// Get returns the configuration of one integration type
func (s *Service) Get(ctx context.Context, scope tenant.Scope, integrationType string) (*models.FailoverConfig, error) {
	cfg, err := s.store.ForTenant(scope).Failover.GetByIntegrationType(ctx, integrationType)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrFailoverConfigNotFound, "failed to get failover configuration")
	}
	return cfg, nil
}

// Upsert creates or replaces the configuration of an integration type.
// A new configuration starts on the primary provider; an existing one keeps
// its current target and failover history.
func (s *Service) Upsert(ctx context.Context, scope tenant.Scope, actor models.Actor, in ConfigInput) (*models.FailoverConfig, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	return services.WithTransactionResult(ctx, s.store.Transactions(), func(ctx context.Context) (*models.FailoverConfig, error) {
		repos := s.store.ForTenant(scope)

		before, err := repos.Failover.GetByIntegrationType(ctx, in.IntegrationType)
		if err != nil && !errors.Is(err, repositories.ErrNotFound) {
			return nil, services.FromRepository(err, services.ErrFailoverConfigNotFound, "failed to get failover configuration")
		}

		now := s.now()
		cfg := &models.FailoverConfig{
			ID:               uuid.New(),
			IntegrationType:  in.IntegrationType,
			PrimaryProvider:  in.PrimaryProvider,
			BackupProvider:   in.BackupProvider,
			FailureThreshold: in.FailureThreshold,
			AutoFailover:     in.AutoFailover,
			AutoRecovery:     in.AutoRecovery,
			CurrentActive:    models.FailoverPrimary,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := repos.Failover.Upsert(ctx, cfg); err != nil {
			return nil, services.FromRepository(err, services.ErrFailoverConfigNotFound, "failed to save failover configuration")
		}

		action := models.AuditActionCreate
		var previous interface{}
		if before != nil {
			action = models.AuditActionUpdate
			previous = before
		}
		event := models.NewAuditEvent(scope.OrgID(), action, models.NewEntityRef(models.EntityFailoverConfig, cfg.ID)).
			By(actor).
			WithSeverity(models.SeverityMedium).
			WithChange(previous, cfg)
		if err := audit.Record(ctx, repos, event); err != nil {
			return nil, err
		}
		return cfg, nil
	})
}

// Trigger switches an integration to its other provider. The switch is
// conditional on the target read at the start, so of two concurrent triggers
// only one flips and the other gets a conflict.
func (s *Service) Trigger(ctx context.Context, scope tenant.Scope, actor models.Actor, integrationType, reason string) (*models.FailoverConfig, error) {
	if reason == "" {
		reason = "manual failover"
	}

	cfg, err := services.WithTransactionResult(ctx, s.store.Transactions(), func(ctx context.Context) (*models.FailoverConfig, error) {
		repos := s.store.ForTenant(scope)

		before, err := repos.Failover.GetByIntegrationType(ctx, integrationType)
		if err != nil {
			return nil, services.FromRepository(err, services.ErrFailoverConfigNotFound, "failed to get failover configuration")
		}

		after, err := repos.Failover.Switch(ctx, integrationType, before.CurrentActive, reason, s.now())
		if err != nil {
			return nil, services.FromRepository(err, services.ErrFailoverConfigNotFound, "failed to switch failover target")
		}

		event := models.NewAuditEvent(scope.OrgID(), models.AuditActionFailover, models.NewEntityRef(models.EntityFailoverConfig, after.ID)).
			By(actor).
			WithSeverity(models.SeverityHigh).
			WithChange(
				map[string]interface{}{"current_active": before.CurrentActive, "provider": before.ActiveProvider()},
				map[string]interface{}{"current_active": after.CurrentActive, "provider": after.ActiveProvider()}).
			WithMetadata(map[string]interface{}{"reason": reason, "failover_count": after.FailoverCount})
		if err := audit.Record(ctx, repos, event); err != nil {
			return nil, err
		}
		return after, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Warn("failover triggered",
		zap.String("org_id", scope.OrgID().String()),
		zap.String("integration_type", integrationType),
		zap.String("current_active", string(cfg.CurrentActive)),
		zap.String("reason", reason))
	return cfg, nil
}
