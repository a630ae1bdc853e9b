package expense

import (
	"context"
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

// Publisher emits webhook events inside the caller's transaction
type Publisher interface {
	Publish(ctx context.Context, repos *repositories.Repositories, eventType string, data interface{}) ([]*models.WebhookDelivery, error)
}

// Service implements the expense report workflow
type Service struct {
	store           repositories.Store
	publisher       Publisher
	logger          *zap.Logger
	defaultCurrency string
	now             func() time.Time
}

// NewService creates a new expense Service
func NewService(store repositories.Store, publisher Publisher, logger *zap.Logger, defaultCurrency string) *Service {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &Service{
		store:           store,
		publisher:       publisher,
		logger:          logger,
		defaultCurrency: defaultCurrency,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// ReportInput is the body of a new draft report
type ReportInput struct {
	Title    string
	Currency string
}

// ItemInput is one expense line added to a draft
type ItemInput struct {
	Category    string
	Description string
	Amount      int64
	IncurredOn  time.Time
}

// isApprover reports whether the actor may act on reports of other employees
func isApprover(actor models.Actor) bool {
	return actor.Principal.HasRole(models.RoleManager)
}

func canAccess(actor models.Actor, report *models.ExpenseReport) bool {
	return isApprover(actor) || (actor.Principal != nil && actor.Principal.ID == report.EmployeeID)
}

// List returns reports of the tenant. Employees only see their own reports.
func (s *Service) List(ctx context.Context, scope tenant.Scope, actor models.Actor, filter models.ExpenseFilter, page services.PageRequest) (*models.Page[*models.ExpenseReport], error) {
	if actor.Principal == nil {
		return nil, services.ErrUnauthorized
	}
	if !isApprover(actor) {
		own := actor.Principal.ID
		filter.EmployeeID = &own
	}

	page, err := page.Normalize()
	if err != nil {
		return nil, err
	}
	reports, total, err := s.store.ForTenant(scope).Expenses.ListReports(ctx, filter, page.Limit(), page.Offset())
	if err != nil {
		return nil, services.FromRepository(err, services.ErrExpenseReportNotFound, "failed to list expense reports")
	}
	if reports == nil {
		reports = []*models.ExpenseReport{}
	}
	return &models.Page[*models.ExpenseReport]{
		Items:      reports,
		Pagination: models.NewPagination(total, page.Page, page.PageSize),
	}, nil
}

// Get returns one report with its items
func (s *Service) Get(ctx context.Context, scope tenant.Scope, actor models.Actor, id uuid.UUID) (*models.ExpenseReport, error) {
	report, err := s.store.ForTenant(scope).Expenses.GetReport(ctx, id)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrExpenseReportNotFound, "failed to get expense report")
	}
	// Reports of other employees are indistinguishable from missing ones.
	if !canAccess(actor, report) {
		return nil, services.ErrExpenseReportNotFound
	}
	return report, nil
}

// CreateReport opens a draft report owned by the actor
func (s *Service) CreateReport(ctx context.Context, scope tenant.Scope, actor models.Actor, in ReportInput) (*models.ExpenseReport, error) {
	if actor.Principal == nil {
		return nil, services.ErrUnauthorized
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, services.Validation("title", "title is required")
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	if len(currency) != 3 {
		return nil, services.Validation("currency", "currency must be a 3-letter ISO code")
	}

	return services.WithTransactionResult(ctx, s.store.Transactions(), func(ctx context.Context) (*models.ExpenseReport, error) {
		repos := s.store.ForTenant(scope)

		report := models.NewExpenseReport(scope.OrgID(), actor.Principal.ID, title, currency)
		report.CreatedAt = s.now()
		report.UpdatedAt = report.CreatedAt
		if err := repos.Expenses.CreateReport(ctx, report); err != nil {
			return nil, services.FromRepository(err, services.ErrExpenseReportNotFound, "failed to create expense report")
		}

		event := models.NewAuditEvent(scope.OrgID(), models.AuditActionCreate, models.NewEntityRef(models.EntityExpenseReport, report.ID)).
			By(actor).
			WithChange(nil, report)
		if err := audit.Record(ctx, repos, event); err != nil {
			return nil, err
		}
		return report, nil
	})
}

// AddItem appends an item to a draft report and recomputes its total
func (s *Service) AddItem(ctx context.Context, scope tenant.Scope, actor models.Actor, reportID uuid.UUID, in ItemInput) (*models.ExpenseReport, error) {
	switch {
	case strings.TrimSpace(in.Category) == "":
		return nil, services.Validation("category", "category is required")
	case in.Amount <= 0:
		return nil, services.Validation("amount", "amount must be positive")
	}
	incurredOn := in.IncurredOn
	if incurredOn.IsZero() {
		incurredOn = s.now()
	}

	return services.WithTransactionResult(ctx, s.store.Transactions(), func(ctx context.Context) (*models.ExpenseReport, error) {
		repos := s.store.ForTenant(scope)

		report, err := s.load(ctx, repos, actor, reportID)
		if err != nil {
			return nil, err
		}
		if !isOwner(actor, report) {
			return nil, services.ErrInsufficientPermissions
		}
		if report.Status != models.ExpenseDraft {
			return nil, services.ErrInvalidTransition.WithDetail("status", string(report.Status))
		}

		item := &models.ExpenseItem{
			ID:          uuid.New(),
			ReportID:    report.ID,
			Category:    strings.TrimSpace(in.Category),
			Description: in.Description,
			Amount:      in.Amount,
			IncurredOn:  incurredOn,
			CreatedAt:   s.now(),
		}
		if err := repos.Expenses.AddItem(ctx, item); err != nil {
			return nil, s.transitionError(err, "failed to add expense item")
		}
		if _, err := repos.Expenses.RecomputeTotal(ctx, report.ID); err != nil {
			return nil, services.FromRepository(err, services.ErrExpenseReportNotFound, "failed to recompute expense total")
		}

		updated, err := repos.Expenses.GetReport(ctx, report.ID)
		if err != nil {
			return nil, services.FromRepository(err, services.ErrExpenseReportNotFound, "failed to get expense report")
		}

		event := models.NewAuditEvent(scope.OrgID(), models.AuditActionUpdate, models.NewEntityRef(models.EntityExpenseReport, report.ID)).
			By(actor).
			WithMetadata(map[string]interface{}{"item_id": item.ID, "amount": item.Amount, "total_amount": updated.TotalAmount})
		if err := audit.Record(ctx, repos, event); err != nil {
			return nil, err
		}
		return updated, nil
	})
}

// Submit sends the owner's draft for approval. Reports at or below the
// tenant's auto-approval limit are approved immediately. The transition only
// applies while the total is the one the decision was based on.
func (s *Service) Submit(ctx context.Context, scope tenant.Scope, actor models.Actor, reportID uuid.UUID) (*models.ExpenseReport, error) {
	report, err := services.WithTransactionResult(ctx, s.store.Transactions(), func(ctx context.Context) (*models.ExpenseReport, error) {
		repos := s.store.ForTenant(scope)

		report, err := s.load(ctx, repos, actor, reportID)
		if err != nil {
			return nil, err
		}
		if !isOwner(actor, report) {
			return nil, services.ErrInsufficientPermissions
		}
		if len(report.Items) == 0 {
			return nil, services.ErrEmptyReport
		}

		settings, err := repos.Expenses.GetSettings(ctx)
		if err != nil {
			return nil, services.FromRepository(err, services.ErrExpenseReportNotFound, "failed to get expense settings")
		}

		to, action, eventType := models.ExpensePendingApproval, models.AuditActionSubmit, models.EventExpenseSubmitted
		total := report.TotalAmount
		change := repositories.ExpenseChange{At: s.now(), ExpectedTotal: &total}
		if settings.AutoApproves(report.TotalAmount) {
			to, action, eventType = models.ExpenseApproved, models.AuditActionApprove, models.EventExpenseApproved
		}

		updated, err := repos.Expenses.Transition(ctx, report.ID, models.ExpenseDraft, to, change)
		if err != nil {
			return nil, s.transitionError(err, "failed to submit expense report")
		}

		metadata := map[string]interface{}{"total_amount": updated.TotalAmount}
		if to == models.ExpenseApproved {
			metadata["auto_approved"] = true
		}
		if err := s.record(ctx, repos, actor, action, report, updated, metadata, eventType); err != nil {
			return nil, err
		}
		return updated, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("expense report submitted",
		zap.String("org_id", scope.OrgID().String()),
		zap.String("report_id", report.ID.String()),
		zap.String("status", string(report.Status)))
	return report, nil
}

// Approve moves a pending report to approved
func (s *Service) Approve(ctx context.Context, scope tenant.Scope, actor models.Actor, reportID uuid.UUID) (*models.ExpenseReport, error) {
	return s.decide(ctx, scope, actor, reportID, models.ExpensePendingApproval, models.ExpenseApproved,
		repositories.ExpenseChange{ActorID: actor.ID()}, models.AuditActionApprove, models.EventExpenseApproved, nil)
}

// Reject moves a pending report to rejected with a reason
func (s *Service) Reject(ctx context.Context, scope tenant.Scope, actor models.Actor, reportID uuid.UUID, reason string) (*models.ExpenseReport, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, services.Validation("reason", "rejection reason is required")
	}
	return s.decide(ctx, scope, actor, reportID, models.ExpensePendingApproval, models.ExpenseRejected,
		repositories.ExpenseChange{ActorID: actor.ID(), RejectionReason: reason}, models.AuditActionReject, models.EventExpenseRejected,
		map[string]interface{}{"reason": reason})
}

// MarkPaid moves an approved report to paid
func (s *Service) MarkPaid(ctx context.Context, scope tenant.Scope, actor models.Actor, reportID uuid.UUID) (*models.ExpenseReport, error) {
	return s.decide(ctx, scope, actor, reportID, models.ExpenseApproved, models.ExpensePaid,
		repositories.ExpenseChange{}, models.AuditActionPay, models.EventExpensePaid, nil)
}

func (s *Service) decide(ctx context.Context, scope tenant.Scope, actor models.Actor, reportID uuid.UUID, from, to models.ExpenseStatus, change repositories.ExpenseChange, action models.AuditAction, eventType string, metadata map[string]interface{}) (*models.ExpenseReport, error) {
	if !isApprover(actor) {
		return nil, services.ErrInsufficientPermissions
	}

	report, err := services.WithTransactionResult(ctx, s.store.Transactions(), func(ctx context.Context) (*models.ExpenseReport, error) {
		repos := s.store.ForTenant(scope)

		before, err := repos.Expenses.GetReport(ctx, reportID)
		if err != nil {
			return nil, services.FromRepository(err, services.ErrExpenseReportNotFound, "failed to get expense report")
		}

		change.At = s.now()
		after, err := repos.Expenses.Transition(ctx, reportID, from, to, change)
		if err != nil {
			return nil, s.transitionError(err, "failed to update expense report")
		}

		if err := s.record(ctx, repos, actor, action, before, after, metadata, eventType); err != nil {
			return nil, err
		}
		return after, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("expense report status changed",
		zap.String("org_id", scope.OrgID().String()),
		zap.String("report_id", report.ID.String()),
		zap.String("status", string(report.Status)))
	return report, nil
}

// record writes the audit event and publishes the webhook event of a transition
func (s *Service) record(ctx context.Context, repos *repositories.Repositories, actor models.Actor, action models.AuditAction, before, after *models.ExpenseReport, metadata map[string]interface{}, eventType string) error {
	event := models.NewAuditEvent(repos.Scope.OrgID(), action, models.NewEntityRef(models.EntityExpenseReport, after.ID)).
		By(actor).
		WithChange(statusView(before), statusView(after))
	if metadata != nil {
		event = event.WithMetadata(metadata)
	}
	if err := audit.Record(ctx, repos, event); err != nil {
		return err
	}

	if _, err := s.publisher.Publish(ctx, repos, eventType, eventPayload(after)); err != nil {
		return err
	}
	return nil
}

// load fetches a report the actor may act on
func (s *Service) load(ctx context.Context, repos *repositories.Repositories, actor models.Actor, reportID uuid.UUID) (*models.ExpenseReport, error) {
	report, err := repos.Expenses.GetReport(ctx, reportID)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrExpenseReportNotFound, "failed to get expense report")
	}
	if !canAccess(actor, report) {
		return nil, services.ErrExpenseReportNotFound
	}
	return report, nil
}

func (s *Service) transitionError(err error, op string) error {
	mapped := services.FromRepository(err, services.ErrExpenseReportNotFound, op)
	if services.IsConflictError(mapped) {
		return services.ErrConcurrentUpdate
	}
	return mapped
}

func isOwner(actor models.Actor, report *models.ExpenseReport) bool {
	return actor.Principal != nil && actor.Principal.ID == report.EmployeeID
}

func statusView(r *models.ExpenseReport) map[string]interface{} {
	return map[string]interface{}{"status": r.Status, "total_amount": r.TotalAmount}
}

// eventPayload is the data section of expense webhook events
func eventPayload(r *models.ExpenseReport) map[string]interface{} {
	payload := map[string]interface{}{
		"id":           r.ID,
		"employee_id":  r.EmployeeID,
		"title":        r.Title,
		"currency":     r.Currency,
		"total_amount": r.TotalAmount,
		"status":       r.Status,
	}
	if r.ApprovedBy != nil {
		payload["approved_by"] = r.ApprovedBy
	}
	if r.RejectionReason != "" {
		payload["rejection_reason"] = r.RejectionReason
	}
	return payload
}
