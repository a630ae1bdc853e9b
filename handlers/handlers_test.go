package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/upb/staffing-erp/middleware"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/repositories/memory"
	"github.com/upb/staffing-erp/services/audit"
	"github.com/upb/staffing-erp/services/expense"
	"github.com/upb/staffing-erp/services/failover"
	"github.com/upb/staffing-erp/services/webhook"
	"github.com/upb/staffing-erp/tenant"
	"github.com/upb/staffing-erp/utils"
	"go.uber.org/zap"
)

// testEnv serves every handler over the memory store. Principals are
// injected directly; the auth gates are covered by the middleware tests.
type testEnv struct {
	store  *memory.Store
	router chi.Router
	orgID  uuid.UUID

	admin     *models.Principal
	manager   *models.Principal
	employee  *models.Principal
	colleague *models.Principal
	outsider  *models.Principal
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewStore()
	orgID := uuid.New()

	env := &testEnv{
		store:     store,
		orgID:     orgID,
		admin:     &models.Principal{ID: uuid.New(), OrgID: orgID, Role: models.RoleAdmin, Email: "admin@acme.test"},
		manager:   &models.Principal{ID: uuid.New(), OrgID: orgID, Role: models.RoleManager, Email: "manager@acme.test"},
		employee:  &models.Principal{ID: uuid.New(), OrgID: orgID, Role: models.RoleEmployee, Email: "worker@acme.test"},
		colleague: &models.Principal{ID: uuid.New(), OrgID: orgID, Role: models.RoleEmployee, Email: "other@acme.test"},
		outsider:  &models.Principal{ID: uuid.New(), OrgID: uuid.New(), Role: models.RoleAdmin, Email: "admin@globex.test"},
	}

	webhooks := webhook.NewService(store, logger)
	sessionHandler := NewSessionHandler(logger)
	auditHandler := NewAuditHandler(audit.NewService(store, logger, audit.DefaultConfig()), logger)
	webhookHandler := NewWebhookHandler(webhooks, logger)
	failoverHandler := NewFailoverHandler(failover.NewService(store, logger), logger)
	expenseHandler := NewExpenseHandler(expense.NewService(store, webhooks, logger, "USD"), logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)

	r.Get("/session/me", sessionHandler.HandleMe)

	r.Get("/audit/events", auditHandler.HandleListEvents)
	r.Get("/audit/events/{id}", auditHandler.HandleGetEvent)
	r.Get("/audit/stats", auditHandler.HandleStats)
	r.Get("/audit/filter-options", auditHandler.HandleFilterOptions)
	r.Post("/audit/export", auditHandler.HandleExport)
	r.Get("/audit/retention-policies", auditHandler.HandleListPolicies)
	r.Put("/audit/retention-policies", auditHandler.HandleUpsertPolicy)
	r.Delete("/audit/retention-policies/{id}", auditHandler.HandleDeletePolicy)
	r.Post("/audit/retention/apply", auditHandler.HandleApplyRetention)

	r.Get("/webhooks", webhookHandler.HandleListSubscriptions)
	r.Post("/webhooks", webhookHandler.HandleCreateSubscription)
	r.Get("/webhooks/deliveries", webhookHandler.HandleListDeliveries)
	r.Get("/webhooks/deliveries/{id}", webhookHandler.HandleGetDelivery)
	r.Post("/webhooks/deliveries/{id}/replay", webhookHandler.HandleReplay)
	r.Get("/webhooks/dlq", webhookHandler.HandleListDLQ)
	r.Post("/webhooks/dlq/clear", webhookHandler.HandleClearAllDLQ)
	r.Post("/webhooks/dlq/{id}/retry", webhookHandler.HandleRetryDLQ)
	r.Post("/webhooks/dlq/{id}/clear", webhookHandler.HandleClearDLQ)
	r.Get("/webhooks/{id}", webhookHandler.HandleGetSubscription)
	r.Put("/webhooks/{id}", webhookHandler.HandleUpdateSubscription)
	r.Delete("/webhooks/{id}", webhookHandler.HandleDeleteSubscription)
	r.Post("/webhooks/{id}/status", webhookHandler.HandleSetStatus)
	r.Post("/webhooks/{id}/secret", webhookHandler.HandleRotateSecret)
	r.Post("/webhooks/{id}/test", webhookHandler.HandleSendTest)

	r.Get("/failover", failoverHandler.HandleList)
	r.Put("/failover", failoverHandler.HandleUpsert)
	r.Get("/failover/{integration_type}", failoverHandler.HandleGet)
	r.Post("/failover/{integration_type}/trigger", failoverHandler.HandleTrigger)

	r.Get("/expenses/reports", expenseHandler.HandleListReports)
	r.Post("/expenses/reports", expenseHandler.HandleCreateReport)
	r.Get("/expenses/reports/{id}", expenseHandler.HandleGetReport)
	r.Post("/expenses/reports/{id}/items", expenseHandler.HandleAddItem)
	r.Post("/expenses/reports/{id}/submit", expenseHandler.HandleSubmit)
	r.Post("/expenses/reports/{id}/approve", expenseHandler.HandleApprove)
	r.Post("/expenses/reports/{id}/reject", expenseHandler.HandleReject)
	r.Post("/expenses/reports/{id}/pay", expenseHandler.HandlePay)

	env.router = r
	return env
}

// do sends a request as principal. A string body is sent verbatim, anything
// else is JSON encoded.
func (e *testEnv) do(t *testing.T, p *models.Principal, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	ctx := middleware.WithPrincipal(req.Context(), p)
	if p.HasTenant() {
		ctx = tenant.WithScope(ctx, tenant.MustScope(p.OrgID))
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req.WithContext(ctx))
	return w
}

func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var body struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Data
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) utils.ErrorResponse {
	t.Helper()
	var response utils.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response), w.Body.String())
	return response
}

// hasFieldError reports whether a BAD_REQUEST names field, either as a
// validator field key or as the field detail of a domain error
func hasFieldError(resp utils.ErrorResponse, field string) bool {
	if _, ok := resp.Details[field]; ok {
		return true
	}
	return resp.Details["field"] == field
}

// createSubscription registers a subscription through the API and returns its id
func (e *testEnv) createSubscription(t *testing.T, events ...string) uuid.UUID {
	t.Helper()
	if len(events) == 0 {
		events = []string{"*"}
	}
	w := e.do(t, e.admin, http.MethodPost, "/webhooks", map[string]interface{}{
		"url":         "https://hooks.acme.test/erp",
		"description": "payroll sync",
		"event_types": events,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeData[CreateSubscriptionResponse](t, w).ID
}
