package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/upb/staffing-erp/middleware"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/services/webhook"
	"github.com/upb/staffing-erp/tenant"
	"github.com/upb/staffing-erp/utils"
	"go.uber.org/zap"
)

// SubscriptionRequest represents a request to create or update a webhook subscription
type SubscriptionRequest struct {
	URL         string              `json:"url" validate:"required,url"`
	Description string              `json:"description,omitempty" validate:"max=500"`
	EventTypes  []string            `json:"event_types" validate:"required,min=1,dive,required"`
	RetryPolicy *models.RetryPolicy `json:"retry_policy,omitempty"`
}

// SubscriptionStatusRequest represents a request to change a subscription status
type SubscriptionStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active inactive disabled"`
}

// CreateSubscriptionResponse carries the signing secret, shown only once
type CreateSubscriptionResponse struct {
	*models.WebhookSubscription
	Secret string `json:"secret"`
}

// SecretResponse carries a regenerated signing secret
type SecretResponse struct {
	Secret string `json:"secret"`
}

// ClearDLQResponse reports how many dead-lettered deliveries were cleared
type ClearDLQResponse struct {
	Cleared int64 `json:"cleared"`
}

// WebhookHandler handles webhook subscription, delivery and DLQ requests
type WebhookHandler struct {
	service *webhook.Service
	logger  *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(service *webhook.Service, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		service: service,
		logger:  logger,
	}
}

func (req SubscriptionRequest) input() webhook.SubscriptionInput {
	return webhook.SubscriptionInput{
		URL:         req.URL,
		Description: req.Description,
		EventTypes:  req.EventTypes,
		RetryPolicy: req.RetryPolicy,
	}
}

// HandleListSubscriptions handles GET /api/v1/webhooks
func (h *WebhookHandler) HandleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	subs, err := h.service.ListSubscriptions(r.Context(), scope)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, subs)
}

// HandleCreateSubscription handles POST /api/v1/webhooks
func (h *WebhookHandler) HandleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	var req SubscriptionRequest
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	sub, secret, err := h.service.CreateSubscription(r.Context(), scope, middleware.ActorFromRequest(r), req.input())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteCreated(w, CreateSubscriptionResponse{WebhookSubscription: sub, Secret: secret})
}

// HandleGetSubscription handles GET /api/v1/webhooks/{id}
func (h *WebhookHandler) HandleGetSubscription(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	sub, err := h.service.GetSubscription(r.Context(), scope, id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, sub)
}

// HandleUpdateSubscription handles PUT /api/v1/webhooks/{id}
func (h *WebhookHandler) HandleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	var req SubscriptionRequest
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	sub, err := h.service.UpdateSubscription(r.Context(), scope, middleware.ActorFromRequest(r), id, req.input())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, sub)
}

// HandleDeleteSubscription handles DELETE /api/v1/webhooks/{id}
func (h *WebhookHandler) HandleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := h.service.DeleteSubscription(r.Context(), scope, middleware.ActorFromRequest(r), id); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	utils.WriteNoContent(w)
}

// HandleSetStatus handles POST /api/v1/webhooks/{id}/status
func (h *WebhookHandler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	var req SubscriptionStatusRequest
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	ctx := r.Context()
	if err := h.service.SetStatus(ctx, scope, middleware.ActorFromRequest(r), id, models.SubscriptionStatus(req.Status)); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	sub, err := h.service.GetSubscription(ctx, scope, id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, sub)
}

// HandleRotateSecret handles POST /api/v1/webhooks/{id}/secret
func (h *WebhookHandler) HandleRotateSecret(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	secret, err := h.service.RotateSecret(r.Context(), scope, middleware.ActorFromRequest(r), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("webhook secret rotated",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("subscription_id", id.String()))

	_ = utils.WriteOK(w, SecretResponse{Secret: secret})
}

// HandleSendTest handles POST /api/v1/webhooks/{id}/test
func (h *WebhookHandler) HandleSendTest(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	delivery, err := h.service.SendTest(r.Context(), scope, middleware.ActorFromRequest(r), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteJSON(w, http.StatusAccepted, utils.SuccessResponse{Data: delivery})
}

// HandleListDeliveries handles GET /api/v1/webhooks/deliveries
func (h *WebhookHandler) HandleListDeliveries(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	page, err := pageFromQuery(r)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	subscriptionID, err := queryUUID(r, "subscription_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	filter := models.DeliveryFilter{
		SubscriptionID: subscriptionID,
		EventType:      r.URL.Query().Get("event_type"),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.DeliveryStatus(raw)
		filter.Status = &status
	}

	result, err := h.service.ListDeliveries(r.Context(), scope, filter, page)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandleGetDelivery handles GET /api/v1/webhooks/deliveries/{id}
func (h *WebhookHandler) HandleGetDelivery(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	delivery, err := h.service.GetDelivery(r.Context(), scope, id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, delivery)
}

// HandleReplay handles POST /api/v1/webhooks/deliveries/{id}/replay
func (h *WebhookHandler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	h.requeue(w, r, h.service.Replay)
}

// HandleListDLQ handles GET /api/v1/webhooks/dlq
func (h *WebhookHandler) HandleListDLQ(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	page, err := pageFromQuery(r)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	subscriptionID, err := queryUUID(r, "subscription_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.service.ListDLQ(r.Context(), scope, subscriptionID, page)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandleRetryDLQ handles POST /api/v1/webhooks/dlq/{id}/retry
func (h *WebhookHandler) HandleRetryDLQ(w http.ResponseWriter, r *http.Request) {
	h.requeue(w, r, h.service.RetryDLQ)
}

// HandleClearDLQ handles POST /api/v1/webhooks/dlq/{id}/clear
func (h *WebhookHandler) HandleClearDLQ(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := h.service.ClearDLQ(r.Context(), scope, middleware.ActorFromRequest(r), id); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	utils.WriteNoContent(w)
}

// HandleClearAllDLQ handles POST /api/v1/webhooks/dlq/clear
func (h *WebhookHandler) HandleClearAllDLQ(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	subscriptionID, err := queryUUID(r, "subscription_id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	n, err := h.service.ClearAllDLQ(r.Context(), scope, middleware.ActorFromRequest(r), subscriptionID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("webhook dead letter queue cleared",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.Int64("cleared", n))

	_ = utils.WriteOK(w, ClearDLQResponse{Cleared: n})
}

// requeue runs an operation that queues a new attempt of the delivery in the path
func (h *WebhookHandler) requeue(w http.ResponseWriter, r *http.Request, op func(context.Context, tenant.Scope, models.Actor, uuid.UUID) (*models.WebhookDelivery, error)) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	delivery, err := op(r.Context(), scope, middleware.ActorFromRequest(r), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteJSON(w, http.StatusAccepted, utils.SuccessResponse{Data: delivery})
}
