package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/staffing-erp/middleware"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/services"
	"github.com/upb/staffing-erp/services/audit"
	"github.com/upb/staffing-erp/utils"
	"go.uber.org/zap"
)

// AuditFilterRequest holds the optional filters shared by list and export
type AuditFilterRequest struct {
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	Action     string     `json:"action,omitempty"`
	TargetType string     `json:"target_type,omitempty"`
	Severity   string     `json:"severity,omitempty"`
	Outcome    string     `json:"outcome,omitempty"`
	IPAddress  string     `json:"ip_address,omitempty"`
	Search     string     `json:"search,omitempty"`
}

// ExportAuditRequest represents a request to export audit events
type ExportAuditRequest struct {
	From    *time.Time         `json:"from" validate:"required"`
	To      *time.Time         `json:"to" validate:"required"`
	Format  string             `json:"format" validate:"required,oneof=csv json"`
	Filters AuditFilterRequest `json:"filters"`
}

// RetentionPolicyRequest represents a request to upsert a retention policy
type RetentionPolicyRequest struct {
	EntityType    string `json:"entity_type" validate:"required"`
	RetentionDays int    `json:"retention_days" validate:"gt=0"`
	Action        string `json:"action" validate:"required,oneof=archive delete anonymize"`
	Enabled       *bool  `json:"enabled,omitempty"`
}

// AuditHandler handles audit trail and retention HTTP requests
type AuditHandler struct {
	service *audit.Service
	logger  *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(service *audit.Service, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		service: service,
		logger:  logger,
	}
}

// toFilter converts the request filters into a repository filter
func (f AuditFilterRequest) toFilter(from, to *time.Time) (models.AuditFilter, error) {
	filter := models.AuditFilter{ActorID: f.ActorID, From: from, To: to}
	if f.Action != "" {
		action := models.AuditAction(strings.ToUpper(f.Action))
		filter.Action = &action
	}
	if f.TargetType != "" {
		t, err := models.ParseEntityType(f.TargetType)
		if err != nil {
			return filter, services.Validation("target_type", err.Error())
		}
		filter.TargetType = &t
	}
	if f.Severity != "" {
		severity := models.Severity(strings.ToUpper(f.Severity))
		filter.Severity = &severity
	}
	if f.Outcome != "" {
		outcome := models.Outcome(strings.ToUpper(f.Outcome))
		if outcome != models.OutcomeSuccess && outcome != models.OutcomeFailure {
			return filter, services.Validation("outcome", "outcome must be SUCCESS or FAILURE")
		}
		filter.Outcome = &outcome
	}
	if f.IPAddress != "" {
		ip := f.IPAddress
		filter.IPAddress = &ip
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		filter.Search = &search
	}
	return filter, nil
}

// HandleListEvents handles GET /api/v1/audit/events
func (h *AuditHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	filter, page, err := h.parseListQuery(r)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	result, err := h.service.List(r.Context(), scope, filter, page)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}

func (h *AuditHandler) parseListQuery(r *http.Request) (models.AuditFilter, services.PageRequest, error) {
	q := r.URL.Query()
	page, err := pageFromQuery(r)
	if err != nil {
		return models.AuditFilter{}, page, err
	}
	actorID, err := queryUUID(r, "actor_id")
	if err != nil {
		return models.AuditFilter{}, page, err
	}
	from, err := queryTime(r, "from")
	if err != nil {
		return models.AuditFilter{}, page, err
	}
	to, err := queryTime(r, "to")
	if err != nil {
		return models.AuditFilter{}, page, err
	}

	filter, err := AuditFilterRequest{
		ActorID:    actorID,
		Action:     q.Get("action"),
		TargetType: q.Get("target_type"),
		Severity:   q.Get("severity"),
		Outcome:    q.Get("outcome"),
		IPAddress:  q.Get("ip_address"),
		Search:     q.Get("search"),
	}.toFilter(from, to)
	return filter, page, err
}

// HandleGetEvent handles GET /api/v1/audit/events/{id}
func (h *AuditHandler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	event, err := h.service.Get(r.Context(), scope, id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, event)
}

// HandleStats handles GET /api/v1/audit/stats
func (h *AuditHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	hours, err := queryInt(r, "hours")
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	stats, err := h.service.Stats(r.Context(), scope, hours)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, stats)
}

// HandleFilterOptions handles GET /api/v1/audit/filter-options
func (h *AuditHandler) HandleFilterOptions(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	opts, err := h.service.FilterOptions(r.Context(), scope)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, opts)
}

// HandleExport handles POST /api/v1/audit/export
func (h *AuditHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	var req ExportAuditRequest
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	filter, err := req.Filters.toFilter(req.From, req.To)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	result, err := h.service.Export(r.Context(), scope, middleware.ActorFromRequest(r), audit.ExportRequest{
		Format: audit.ExportFormat(req.Format),
		Filter: filter,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteFile(w, result.ContentType, result.Filename, result.Body); err != nil {
		h.logger.Error("failed to write export",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
	}
}

// HandleListPolicies handles GET /api/v1/audit/retention-policies
func (h *AuditHandler) HandleListPolicies(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	policies, err := h.service.ListPolicies(r.Context(), scope)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, policies)
}

// HandleUpsertPolicy handles PUT /api/v1/audit/retention-policies
func (h *AuditHandler) HandleUpsertPolicy(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	var req RetentionPolicyRequest
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	entityType, err := models.ParseEntityType(req.EntityType)
	if err != nil {
		HandleServiceError(w, services.Validation("entity_type", err.Error()), h.logger)
		return
	}

	policy := &models.RetentionPolicy{
		OrgID:         scope.OrgID(),
		EntityType:    entityType,
		RetentionDays: req.RetentionDays,
		Action:        models.RetentionAction(req.Action),
		Enabled:       req.Enabled == nil || *req.Enabled,
	}

	saved, err := h.service.UpsertPolicy(r.Context(), scope, middleware.ActorFromRequest(r), policy)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("retention policy saved",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("policy_id", saved.ID.String()))

	_ = utils.WriteOK(w, saved)
}

// HandleDeletePolicy handles DELETE /api/v1/audit/retention-policies/{id}
func (h *AuditHandler) HandleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := h.service.DeletePolicy(r.Context(), scope, middleware.ActorFromRequest(r), id); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	utils.WriteNoContent(w)
}

// HandleApplyRetention handles POST /api/v1/audit/retention/apply
func (h *AuditHandler) HandleApplyRetention(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	results, err := h.service.ApplyRetention(r.Context(), scope, middleware.ActorFromRequest(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, results)
}
