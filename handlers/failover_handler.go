package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/staffing-erp/middleware"
	"github.com/upb/staffing-erp/services/failover"
	"github.com/upb/staffing-erp/utils"
	"go.uber.org/zap"
)

// FailoverConfigRequest represents a request to upsert a failover configuration
type FailoverConfigRequest struct {
	IntegrationType  string `json:"integration_type" validate:"required,max=100"`
	PrimaryProvider  string `json:"primary_provider" validate:"required,max=100"`
	BackupProvider   string `json:"backup_provider" validate:"required,max=100"`
	FailureThreshold int    `json:"failure_threshold" validate:"gte=1"`
	AutoFailover     bool   `json:"auto_failover"`
	AutoRecovery     bool   `json:"auto_recovery"`
}

// TriggerFailoverRequest represents an optional reason for a manual failover
type TriggerFailoverRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// FailoverHandler handles integration failover HTTP requests
type FailoverHandler struct {
	service *failover.Service
	logger  *zap.Logger
}

// NewFailoverHandler creates a new FailoverHandler
func NewFailoverHandler(service *failover.Service, logger *zap.Logger) *FailoverHandler {
	return &FailoverHandler{
		service: service,
		logger:  logger,
	}
}

// HandleList handles GET /api/v1/failover
func (h *FailoverHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	configs, err := h.service.List(r.Context(), scope)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, configs)
}

// HandleGet handles GET /api/v1/failover/{integration_type}
func (h *FailoverHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	cfg, err := h.service.Get(r.Context(), scope, chi.URLParam(r, "integration_type"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, cfg)
}

// HandleUpsert handles PUT /api/v1/failover
func (h *FailoverHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	var req FailoverConfigRequest
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	cfg, err := h.service.Upsert(r.Context(), scope, middleware.ActorFromRequest(r), failover.ConfigInput{
		IntegrationType:  req.IntegrationType,
		PrimaryProvider:  req.PrimaryProvider,
		BackupProvider:   req.BackupProvider,
		FailureThreshold: req.FailureThreshold,
		AutoFailover:     req.AutoFailover,
		AutoRecovery:     req.AutoRecovery,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, cfg)
}

// HandleTrigger handles POST /api/v1/failover/{integration_type}/trigger.
// The body is optional.
func (h *FailoverHandler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	var req TriggerFailoverRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	integrationType := chi.URLParam(r, "integration_type")
	cfg, err := h.service.Trigger(r.Context(), scope, middleware.ActorFromRequest(r), integrationType, req.Reason)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("failover triggered",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("integration_type", integrationType),
		zap.String("current_active", string(cfg.CurrentActive)))

	_ = utils.WriteOK(w, cfg)
}
