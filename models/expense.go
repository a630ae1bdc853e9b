package models

import (
	"time"

	"github.com/google/uuid"
)

// ExpenseStatus is the approval state of an expense report
type ExpenseStatus string

const (
	ExpenseDraft           ExpenseStatus = "draft"
	ExpensePendingApproval ExpenseStatus = "pending_approval"
	ExpenseApproved        ExpenseStatus = "approved"
	ExpenseRejected        ExpenseStatus = "rejected"
	ExpensePaid            ExpenseStatus = "paid"
	ExpenseCancelled       ExpenseStatus = "cancelled"
)

// Webhook event types published by expense transitions
const (
	EventExpenseSubmitted = "expense_report.submitted"
	EventExpenseApproved  = "expense_report.approved"
	EventExpenseRejected  = "expense_report.rejected"
	EventExpensePaid      = "expense_report.paid"
)

// ExpenseReport groups expense items submitted for approval.
// Amounts are in minor currency units.
type ExpenseReport struct {
	ID              uuid.UUID     `json:"id" db:"id"`
	OrgID           uuid.UUID     `json:"org_id" db:"org_id"`
	EmployeeID      uuid.UUID     `json:"employee_id" db:"employee_id"`
	Title           string        `json:"title" db:"title"`
	Currency        string        `json:"currency" db:"currency"`
	TotalAmount     int64         `json:"total_amount" db:"total_amount"`
	Status          ExpenseStatus `json:"status" db:"status"`
	SubmittedAt     *time.Time    `json:"submitted_at,omitempty" db:"submitted_at"`
	ApprovedBy      *uuid.UUID    `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt      *time.Time    `json:"approved_at,omitempty" db:"approved_at"`
	RejectionReason string        `json:"rejection_reason,omitempty" db:"rejection_reason"`
	PaidAt          *time.Time    `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
	Items           []ExpenseItem `json:"items,omitempty"`
}

// TableName returns the table name for the ExpenseReport model
func (ExpenseReport) TableName() string {
	return "expense_reports"
}

// NewExpenseReport creates a draft report
func NewExpenseReport(orgID, employeeID uuid.UUID, title, currency string) *ExpenseReport {
	now := time.Now().UTC()
	return &ExpenseReport{
		ID:         uuid.New(),
		OrgID:      orgID,
		EmployeeID: employeeID,
		Title:      title,
		Currency:   currency,
		Status:     ExpenseDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ExpenseItem is one line of an expense report
type ExpenseItem struct {
	ID          uuid.UUID `json:"id" db:"id"`
	OrgID       uuid.UUID `json:"org_id" db:"org_id"`
	ReportID    uuid.UUID `json:"report_id" db:"report_id"`
	Category    string    `json:"category" db:"category"`
	Description string    `json:"description" db:"description"`
	Amount      int64     `json:"amount" db:"amount"`
	IncurredOn  time.Time `json:"incurred_on" db:"incurred_on"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ExpenseSettings holds per-tenant expense policy
type ExpenseSettings struct {
	OrgID             uuid.UUID `json:"org_id" db:"org_id"`
	AutoApprovalLimit *int64    `json:"auto_approval_limit,omitempty" db:"auto_approval_limit"`
}

// AutoApproves reports whether a report totalling amount skips manual approval
func (s *ExpenseSettings) AutoApproves(amount int64) bool {
	return s != nil && s.AutoApprovalLimit != nil && amount <= *s.AutoApprovalLimit
}

// ExpenseFilter selects expense reports within a tenant
type ExpenseFilter struct {
	EmployeeID *uuid.UUID
	Status     *ExpenseStatus
}
