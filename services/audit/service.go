package audit

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/repositories"
	"github.com/upb/staffing-erp/services"
	"github.com/upb/staffing-erp/tenant"
	"go.uber.org/zap"
)

// DefaultExportMaxRows caps the number of events in one export
const DefaultExportMaxRows = 100000

// Config holds configuration for the audit Service
type Config struct {
	ExportMaxRows int
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{ExportMaxRows: DefaultExportMaxRows}
}

// Service reads, exports and prunes the audit trail of a tenant
type Service struct {
	store         repositories.Store
	logger        *zap.Logger
	exportMaxRows int
	now           func() time.Time
}

// NewService creates a new audit Service
func NewService(store repositories.Store, logger *zap.Logger, config Config) *Service {
	if config.ExportMaxRows <= 0 {
		config.ExportMaxRows = DefaultExportMaxRows
	}
	return &Service{
		store:         store,
		logger:        logger,
		exportMaxRows: config.ExportMaxRows,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Stats window bounds in hours
const (
	DefaultStatsHours = 24
	MaxStatsHours     = 720
)

// MaxFilterActors caps the actors offered as filter options
const MaxFilterActors = 100

const maxSearchLength = 200

func validateFilter(f models.AuditFilter) error {
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return services.ErrInvalidDateRange
	}
	if f.Severity != nil && !f.Severity.Valid() {
		return services.Validation("severity", fmt.Sprintf("unknown severity %q", *f.Severity))
	}
	if f.IPAddress != nil && net.ParseIP(*f.IPAddress) == nil {
		return services.Validation("ip_address", fmt.Sprintf("invalid IP address %q", *f.IPAddress))
	}
	if f.Search != nil && (*f.Search == "" || len(*f.Search) > maxSearchLength) {
		return services.Validation("search", "search must be between 1 and 200 characters")
	}
	return nil
}

// List returns one page of the tenant's audit events, newest first
func (s *Service) List(ctx context.Context, scope tenant.Scope, filter models.AuditFilter, page services.PageRequest) (*models.Page[*models.AuditEvent], error) {
	page, err := page.Normalize()
	if err != nil {
		return nil, err
	}
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	events, total, err := s.store.ForTenant(scope).Audit.List(ctx, filter, page.Limit(), page.Offset())
	if err != nil {
		return nil, services.FromRepository(err, services.ErrAuditEventNotFound, "failed to list audit events")
	}
	if events == nil {
		events = []*models.AuditEvent{}
	}
	return &models.Page[*models.AuditEvent]{
		Items:      events,
		Pagination: models.NewPagination(total, page.Page, page.PageSize),
	}, nil
}

// Get returns one audit event of the tenant
func (s *Service) Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*models.AuditEvent, error) {
	event, err := s.store.ForTenant(scope).Audit.GetByID(ctx, id)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrAuditEventNotFound, "failed to get audit event")
	}
	return event, nil
}

// Stats summarises the tenant's audit activity over the last hours. Zero
// hours means the default window.
func (s *Service) Stats(ctx context.Context, scope tenant.Scope, hours int) (*models.AuditStats, error) {
	if hours == 0 {
		hours = DefaultStatsHours
	}
	if hours < 1 || hours > MaxStatsHours {
		return nil, services.Validation("hours", "hours must be between 1 and 720")
	}

	since := s.now().Add(-time.Duration(hours) * time.Hour)
	counts, err := s.store.ForTenant(scope).Audit.Counts(ctx, since)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrAuditEventNotFound, "failed to count audit events")
	}
	return models.NewAuditStats(since, counts), nil
}

// FilterOptions returns the actors, actions and target types present in the
// tenant's trail along with every severity and outcome
func (s *Service) FilterOptions(ctx context.Context, scope tenant.Scope) (*models.AuditFilterOptions, error) {
	opts, err := s.store.ForTenant(scope).Audit.FilterOptions(ctx, MaxFilterActors)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrAuditEventNotFound, "failed to load audit filter options")
	}
	return opts, nil
}

// ExportRequest selects the events to export and their encoding
type ExportRequest struct {
	Format ExportFormat
	Filter models.AuditFilter
}

// ExportResult is an encoded export ready to be returned to the caller
type ExportResult struct {
	ContentType string
	Filename    string
	Body        []byte
	Count       int
}

type exportMetadata struct {
	Format      ExportFormat `json:"format"`
	From        *time.Time   `json:"from,omitempty"`
	To          *time.Time   `json:"to,omitempty"`
	RecordCount int          `json:"record_count"`
}

// Export encodes up to the configured maximum of matching events, newest
// first, and records an EXPORT event in the same transaction as the read
func (s *Service) Export(ctx context.Context, scope tenant.Scope, actor models.Actor, req ExportRequest) (*ExportResult, error) {
	if !req.Format.Valid() {
		return nil, services.Validation("format", "format must be csv or json")
	}
	if req.Filter.From == nil {
		return nil, services.Validation("from", "from is required")
	}
	if req.Filter.To == nil {
		return nil, services.Validation("to", "to is required")
	}
	if err := validateFilter(req.Filter); err != nil {
		return nil, err
	}

	now := s.now()
	events, err := services.WithTransactionResult(ctx, s.store.Transactions(), func(ctx context.Context) ([]*models.AuditEvent, error) {
		repos := s.store.ForTenant(scope)

		events, err := repos.Audit.Export(ctx, req.Filter, s.exportMaxRows)
		if err != nil {
			return nil, services.FromRepository(err, services.ErrAuditEventNotFound, "failed to read audit events for export")
		}

		event := models.NewAuditEvent(scope.OrgID(), models.AuditActionExport, models.EntityRef{Type: models.EntityAuditEvent}).
			By(actor).
			WithMetadata(exportMetadata{
				Format:      req.Format,
				From:        req.Filter.From,
				To:          req.Filter.To,
				RecordCount: len(events),
			})
		event.Target.ID = event.ID
		event.CreatedAt = now
		if err := Record(ctx, repos, event); err != nil {
			return nil, err
		}
		return events, nil
	})
	if err != nil {
		return nil, err
	}

	result := &ExportResult{
		ContentType: req.Format.ContentType(),
		Filename:    fmt.Sprintf("audit-logs-%s.%s", now.Format("2006-01-02"), req.Format),
		Count:       len(events),
	}
	switch req.Format {
	case FormatJSON:
		body, err := encodeJSON(events, now)
		if err != nil {
			return nil, services.WrapInternal("failed to encode audit export", err)
		}
		result.Body = body
	default:
		result.Body = encodeCSV(events)
	}

	s.logger.Info("audit events exported",
		zap.String("org_id", scope.OrgID().String()),
		zap.String("format", string(req.Format)),
		zap.Int("count", result.Count))
	return result, nil
}

// ListPolicies returns the tenant's retention policies
func (s *Service) ListPolicies(ctx context.Context, scope tenant.Scope) ([]*models.RetentionPolicy, error) {
	policies, err := s.store.ForTenant(scope).Retention.List(ctx)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrRetentionPolicyNotFound, "failed to list retention policies")
	}
	if policies == nil {
		policies = []*models.RetentionPolicy{}
	}
	return policies, nil
}

// UpsertPolicy creates or replaces the tenant's policy for its entity type
func (s *Service) UpsertPolicy(ctx context.Context, scope tenant.Scope, actor models.Actor, policy *models.RetentionPolicy) (*models.RetentionPolicy, error) {
	if err := policy.Validate(); err != nil {
		return nil, services.Validation("policy", err.Error())
	}

	now := s.now()
	if policy.ID == uuid.Nil {
		policy.ID = uuid.New()
	}
	policy.CreatedAt = now
	policy.UpdatedAt = now

	err := services.WithTransaction(ctx, s.store.Transactions(), func(ctx context.Context) error {
		repos := s.store.ForTenant(scope)
		if err := repos.Retention.Upsert(ctx, policy); err != nil {
			return services.FromRepository(err, services.ErrRetentionPolicyNotFound, "failed to save retention policy")
		}
		return Record(ctx, repos, models.NewAuditEvent(scope.OrgID(), models.AuditActionUpdate,
			models.NewEntityRef(models.EntityRetentionPolicy, policy.ID)).
			By(actor).
			WithSeverity(models.SeverityMedium).
			WithChange(nil, policy))
	})
	if err != nil {
		return nil, err
	}
	return policy, nil
}

// DeletePolicy removes a retention policy
func (s *Service) DeletePolicy(ctx context.Context, scope tenant.Scope, actor models.Actor, id uuid.UUID) error {
	return services.WithTransaction(ctx, s.store.Transactions(), func(ctx context.Context) error {
		repos := s.store.ForTenant(scope)
		existing, err := repos.Retention.GetByID(ctx, id)
		if err != nil {
			return services.FromRepository(err, services.ErrRetentionPolicyNotFound, "failed to get retention policy")
		}
		if err := repos.Retention.Delete(ctx, id); err != nil {
			return services.FromRepository(err, services.ErrRetentionPolicyNotFound, "failed to delete retention policy")
		}
		return Record(ctx, repos, models.NewAuditEvent(scope.OrgID(), models.AuditActionDelete,
			models.NewEntityRef(models.EntityRetentionPolicy, id)).
			By(actor).
			WithSeverity(models.SeverityMedium).
			WithChange(existing, nil))
	})
}

// ApplyRetention runs every enabled policy of the tenant. Each policy is
// applied in its own transaction together with its RETENTION audit event.
func (s *Service) ApplyRetention(ctx context.Context, scope tenant.Scope, actor models.Actor) ([]models.RetentionResult, error) {
	policies, err := s.ListPolicies(ctx, scope)
	if err != nil {
		return nil, err
	}

	results := make([]models.RetentionResult, 0, len(policies))
	for _, policy := range policies {
		if !policy.Enabled {
			continue
		}
		now := s.now()
		cutoff := policy.Cutoff(now)

		affected, err := services.WithTransactionResult(ctx, s.store.Transactions(), func(ctx context.Context) (int64, error) {
			repos := s.store.ForTenant(scope)
			n, err := repos.Audit.ApplyRetention(ctx, policy.EntityType, cutoff, policy.Action)
			if err != nil {
				return 0, services.FromRepository(err, services.ErrRetentionPolicyNotFound, "failed to apply retention policy")
			}
			if err := repos.Retention.MarkApplied(ctx, policy.ID, now); err != nil {
				return 0, services.FromRepository(err, services.ErrRetentionPolicyNotFound, "failed to mark retention policy applied")
			}
			event := models.NewAuditEvent(scope.OrgID(), models.AuditActionRetention,
				models.NewEntityRef(models.EntityRetentionPolicy, policy.ID)).
				By(actor).
				WithSeverity(models.SeverityMedium).
				WithMetadata(map[string]interface{}{
					"entity_type": policy.EntityType.String(),
					"action":      policy.Action,
					"cutoff":      cutoff,
					"affected":    n,
				})
			return n, Record(ctx, repos, event)
		})
		if err != nil {
			s.logger.Error("retention policy failed",
				zap.String("org_id", scope.OrgID().String()),
				zap.String("policy_id", policy.ID.String()),
				zap.Error(err))
			return results, err
		}

		s.logger.Info("retention policy applied",
			zap.String("org_id", scope.OrgID().String()),
			zap.String("policy_id", policy.ID.String()),
			zap.String("action", string(policy.Action)),
			zap.Int64("affected", affected))
		results = append(results, models.RetentionResult{
			PolicyID:   policy.ID,
			EntityType: policy.EntityType,
			Action:     policy.Action,
			Affected:   affected,
		})
	}
	return results, nil
}
