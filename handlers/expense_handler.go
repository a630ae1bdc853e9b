package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/upb/staffing-erp/middleware"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/services"
	"github.com/upb/staffing-erp/services/expense"
	"github.com/upb/staffing-erp/tenant"
	"github.com/upb/staffing-erp/utils"
	"go.uber.org/zap"
)

// CreateReportRequest represents a request to open a draft expense report
type CreateReportRequest struct {
	Title    string `json:"title" validate:"required,max=200"`
	Currency string `json:"currency,omitempty" validate:"omitempty,len=3"`
}

// AddItemRequest represents one expense line. Amount is in minor units and
// incurred_on is a calendar date (YYYY-MM-DD).
type AddItemRequest struct {
	Category    string `json:"category" validate:"required,max=100"`
	Description string `json:"description,omitempty" validate:"max=500"`
	Amount      int64  `json:"amount" validate:"gt=0"`
	IncurredOn  string `json:"incurred_on,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// RejectReportRequest represents a request to reject a pending report
type RejectReportRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// ExpenseHandler handles expense report HTTP requests
type ExpenseHandler struct {
	service *expense.Service
	logger  *zap.Logger
}

// NewExpenseHandler creates a new ExpenseHandler
func NewExpenseHandler(service *expense.Service, logger *zap.Logger) *ExpenseHandler {
	return &ExpenseHandler{
		service: service,
		logger:  logger,
	}
}

// HandleListReports handles GET /api/v1/expenses/reports
func (h *ExpenseHandler) HandleListReports(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	page, err := pageFromQuery(r)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	employeeID, err := queryUUID(r, "employee_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	filter := models.ExpenseFilter{EmployeeID: employeeID}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.ExpenseStatus(raw)
		filter.Status = &status
	}

	result, err := h.service.List(r.Context(), scope, middleware.ActorFromRequest(r), filter, page)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandleCreateReport handles POST /api/v1/expenses/reports
func (h *ExpenseHandler) HandleCreateReport(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	var req CreateReportRequest
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	report, err := h.service.CreateReport(r.Context(), scope, middleware.ActorFromRequest(r), expense.ReportInput{
		Title:    req.Title,
		Currency: req.Currency,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteCreated(w, report)
}

// HandleGetReport handles GET /api/v1/expenses/reports/{id}
func (h *ExpenseHandler) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	report, err := h.service.Get(r.Context(), scope, middleware.ActorFromRequest(r), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, report)
}

// HandleAddItem handles POST /api/v1/expenses/reports/{id}/items
func (h *ExpenseHandler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	var req AddItemRequest
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	in := expense.ItemInput{
		Category:    req.Category,
		Description: req.Description,
		Amount:      req.Amount,
	}
	if req.IncurredOn != "" {
		incurredOn, err := time.Parse(time.DateOnly, req.IncurredOn)
		if err != nil {
			HandleServiceError(w, services.Validation("incurred_on", "incurred_on must be a date (YYYY-MM-DD)"), h.logger)
			return
		}
		in.IncurredOn = incurredOn
	}

	report, err := h.service.AddItem(r.Context(), scope, middleware.ActorFromRequest(r), id, in)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteCreated(w, report)
}

// HandleSubmit handles POST /api/v1/expenses/reports/{id}/submit
func (h *ExpenseHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Submit)
}

// HandleApprove handles POST /api/v1/expenses/reports/{id}/approve
func (h *ExpenseHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Approve)
}

// HandlePay handles POST /api/v1/expenses/reports/{id}/pay
func (h *ExpenseHandler) HandlePay(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.MarkPaid)
}

// HandleReject handles POST /api/v1/expenses/reports/{id}/reject
func (h *ExpenseHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	var req RejectReportRequest
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	h.transition(w, r, func(ctx context.Context, scope tenant.Scope, actor models.Actor, id uuid.UUID) (*models.ExpenseReport, error) {
		return h.service.Reject(ctx, scope, actor, id, req.Reason)
	})
}

// transition runs a status change on the report in the path
func (h *ExpenseHandler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, tenant.Scope, models.Actor, uuid.UUID) (*models.ExpenseReport, error)) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	report, err := op(r.Context(), scope, middleware.ActorFromRequest(r), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, report)
}
