package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/repositories"
	"github.com/upb/staffing-erp/tenant"
	"go.uber.org/zap"
)

// ExpenseRepository implements the repositories.ExpenseRepository interface
type ExpenseRepository struct {
	db     *DB
	scope  tenant.Scope
	logger *zap.Logger
}

// NewExpenseRepository creates an expense repository bound to one tenant
func NewExpenseRepository(db *DB, scope tenant.Scope, logger *zap.Logger) repositories.ExpenseRepository {
	return &ExpenseRepository{db: db, scope: scope, logger: logger}
}

const expenseColumns = `id, org_id, employee_id, title, currency, total_amount, status, submitted_at,
	approved_by, approved_at, rejection_reason, paid_at, created_at, updated_at`

// CreateReport inserts a draft report
func (r *ExpenseRepository) CreateReport(ctx context.Context, report *models.ExpenseReport) error {
	report.OrgID = r.scope.OrgID()
	_, err := GetExecutor(ctx, r.db).ExecContext(ctx,
		`INSERT INTO expense_reports (id, org_id, employee_id, title, currency, total_amount, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		report.ID,
		report.OrgID,
		report.EmployeeID,
		report.Title,
		report.Currency,
		report.TotalAmount,
		string(report.Status),
		report.CreatedAt,
		report.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "failed to create expense report")
	}
	return nil
}

// GetReport returns the report with its items
func (r *ExpenseRepository) GetReport(ctx context.Context, id uuid.UUID) (*models.ExpenseReport, error) {
	executor := GetExecutor(ctx, r.db)

	report, err := scanExpenseReport(executor.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expense_reports WHERE org_id = $1 AND id = $2`,
		r.scope.OrgID(), id))
	if err != nil {
		return nil, mapError(err, "failed to get expense report")
	}

	rows, err := executor.QueryContext(ctx,
		`SELECT id, org_id, report_id, category, description, amount, incurred_on, created_at
		 FROM expense_items WHERE org_id = $1 AND report_id = $2 ORDER BY incurred_on, created_at`,
		r.scope.OrgID(), id)
	if err != nil {
		return nil, mapError(err, "failed to list expense items")
	}
	defer rows.Close()

	for rows.Next() {
		var item models.ExpenseItem
		if err := rows.Scan(&item.ID, &item.OrgID, &item.ReportID, &item.Category, &item.Description,
			&item.Amount, &item.IncurredOn, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan expense item: %w", err)
		}
		report.Items = append(report.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expense items: %w", err)
	}
	return report, nil
}

// ListReports returns one page of reports, newest first, and the filtered total
func (r *ExpenseRepository) ListReports(ctx context.Context, filter models.ExpenseFilter, limit, offset int) ([]*models.ExpenseReport, int, error) {
	conds := []string{"org_id = $1"}
	args := []interface{}{r.scope.OrgID()}
	if filter.EmployeeID != nil {
		args = append(args, *filter.EmployeeID)
		conds = append(conds, fmt.Sprintf("employee_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where := strings.Join(conds, " AND ")
	executor := GetExecutor(ctx, r.db)

	var total int
	if err := executor.QueryRowContext(ctx, `SELECT COUNT(*) FROM expense_reports WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "failed to count expense reports")
	}

	query := fmt.Sprintf(`SELECT %s FROM expense_reports WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		expenseColumns, where, len(args)+1, len(args)+2)
	rows, err := executor.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, mapError(err, "failed to list expense reports")
	}
	defer rows.Close()

	var reports []*models.ExpenseReport
	for rows.Next() {
		report, err := scanExpenseReport(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan expense report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating expense reports: %w", err)
	}
	return reports, total, nil
}

// AddItem inserts an item only while its report is a draft
func (r *ExpenseRepository) AddItem(ctx context.Context, item *models.ExpenseItem) error {
	item.OrgID = r.scope.OrgID()
	executor := GetExecutor(ctx, r.db)

	res, err := executor.ExecContext(ctx, `
		INSERT INTO expense_items (id, org_id, report_id, category, description, amount, incurred_on, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8
		WHERE EXISTS (SELECT 1 FROM expense_reports WHERE org_id = $2 AND id = $3 AND status = $9)`,
		item.ID,
		item.OrgID,
		item.ReportID,
		item.Category,
		item.Description,
		item.Amount,
		item.IncurredOn,
		item.CreatedAt,
		string(models.ExpenseDraft),
	)
	if err != nil {
		return mapError(err, "failed to add expense item")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to add expense item: %w", err)
	}
	if n == 0 {
		return rowExists(ctx, executor, `SELECT 1 FROM expense_reports WHERE org_id = $1 AND id = $2`, r.scope.OrgID(), item.ReportID)
	}
	return nil
}

// RecomputeTotal sets total_amount to the sum of the report's items
func (r *ExpenseRepository) RecomputeTotal(ctx context.Context, reportID uuid.UUID) (int64, error) {
	var total int64
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, `
		UPDATE expense_reports
		SET total_amount = (SELECT COALESCE(SUM(amount), 0) FROM expense_items WHERE org_id = $1 AND report_id = $2),
		    updated_at = now()
		WHERE org_id = $1 AND id = $2
		RETURNING total_amount`,
		r.scope.OrgID(), reportID).Scan(&total)
	if err != nil {
		return 0, mapError(err, "failed to recompute expense total")
	}
	return total, nil
}

// Transition moves the report from one status to another and stamps the
// columns that belong to the target status
func (r *ExpenseRepository) Transition(ctx context.Context, id uuid.UUID, from, to models.ExpenseStatus, change repositories.ExpenseChange) (*models.ExpenseReport, error) {
	sets := []string{"status = $4", "updated_at = $5"}
	args := []interface{}{r.scope.OrgID(), id, string(from), string(to), change.At}
	set := func(column string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	switch to {
	case models.ExpensePendingApproval:
		set("submitted_at", change.At)
	case models.ExpenseApproved:
		if from == models.ExpenseDraft {
			set("submitted_at", change.At)
		}
		set("approved_at", change.At)
		set("approved_by", nullUUID(change.ActorID))
	case models.ExpenseRejected:
		set("approved_by", nullUUID(change.ActorID))
		set("rejection_reason", change.RejectionReason)
	case models.ExpensePaid:
		set("paid_at", change.At)
	}

	where := "org_id = $1 AND id = $2 AND status = $3"
	if change.ExpectedTotal != nil {
		args = append(args, *change.ExpectedTotal)
		where += fmt.Sprintf(" AND total_amount = $%d", len(args))
	}

	query := fmt.Sprintf(`UPDATE expense_reports SET %s WHERE %s RETURNING %s`,
		strings.Join(sets, ", "), where, expenseColumns)

	executor := GetExecutor(ctx, r.db)
	report, err := scanExpenseReport(executor.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rowExists(ctx, executor, `SELECT 1 FROM expense_reports WHERE org_id = $1 AND id = $2`, r.scope.OrgID(), id)
	}
	if err != nil {
		return nil, mapError(err, "failed to transition expense report")
	}

	r.logger.Info("expense report transitioned",
		zap.String("id", id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return report, nil
}

// GetSettings returns the tenant's expense policy; a tenant without a row has no auto-approval
func (r *ExpenseRepository) GetSettings(ctx context.Context) (*models.ExpenseSettings, error) {
	settings := &models.ExpenseSettings{OrgID: r.scope.OrgID()}
	var limit sql.NullInt64

	err := GetExecutor(ctx, r.db).QueryRowContext(ctx,
		`SELECT auto_approval_limit FROM expense_settings WHERE org_id = $1`, r.scope.OrgID()).Scan(&limit)
	if errors.Is(err, sql.ErrNoRows) {
		return settings, nil
	}
	if err != nil {
		return nil, mapError(err, "failed to get expense settings")
	}
	if limit.Valid {
		v := limit.Int64
		settings.AutoApprovalLimit = &v
	}
	return settings, nil
}

func scanExpenseReport(row rowScanner) (*models.ExpenseReport, error) {
	var (
		report     models.ExpenseReport
		status     string
		approvedBy uuid.NullUUID
	)
	if err := row.Scan(
		&report.ID,
		&report.OrgID,
		&report.EmployeeID,
		&report.Title,
		&report.Currency,
		&report.TotalAmount,
		&status,
		&report.SubmittedAt,
		&approvedBy,
		&report.ApprovedAt,
		&report.RejectionReason,
		&report.PaidAt,
		&report.CreatedAt,
		&report.UpdatedAt,
	); err != nil {
		return nil, err
	}
	report.Status = models.ExpenseStatus(status)
	if approvedBy.Valid {
		id := approvedBy.UUID
		report.ApprovedBy = &id
	}
	return &report, nil
}
