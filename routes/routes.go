package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/staffing-erp/app"
	"github.com/upb/staffing-erp/middleware"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics)
	if timeout := deps.Config.Server.RequestTimeout; timeout > 0 {
		r.Use(chimw.Timeout(timeout))
	}

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	auth := deps.AuthMiddleware

	// API v1 routes. Authentication runs before the tenant gate so that an
	// anonymous request is always 401, never 403.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.RequireAuth)
		r.Use(auth.ExtractTenant)

		r.Get("/session/me", deps.SessionHandler.HandleMe)

		// Audit trail (require admin role)
		r.Route("/audit", func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdmin))
			h := deps.AuditHandler
			r.Get("/events", h.HandleListEvents)
			r.Get("/events/{id}", h.HandleGetEvent)
			r.Get("/stats", h.HandleStats)
			r.Get("/filter-options", h.HandleFilterOptions)
			r.Post("/export", h.HandleExport)
			r.Get("/retention-policies", h.HandleListPolicies)
			r.Put("/retention-policies", h.HandleUpsertPolicy)
			r.Delete("/retention-policies/{id}", h.HandleDeletePolicy)
			r.Post("/retention/apply", h.HandleApplyRetention)
		})

		// Webhook subscriptions and deliveries (require admin role)
		r.Route("/webhooks", func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdmin))
			h := deps.WebhookHandler
			r.Get("/", h.HandleListSubscriptions)
			r.Post("/", h.HandleCreateSubscription)

			r.Get("/deliveries", h.HandleListDeliveries)
			r.Get("/deliveries/{id}", h.HandleGetDelivery)
			r.Post("/deliveries/{id}/replay", h.HandleReplay)

			r.Get("/dlq", h.HandleListDLQ)
			r.Post("/dlq/clear", h.HandleClearAllDLQ)
			r.Post("/dlq/{id}/retry", h.HandleRetryDLQ)
			r.Post("/dlq/{id}/clear", h.HandleClearDLQ)

			r.Get("/{id}", h.HandleGetSubscription)
			r.Put("/{id}", h.HandleUpdateSubscription)
			r.Delete("/{id}", h.HandleDeleteSubscription)
			r.Post("/{id}/status", h.HandleSetStatus)
			r.Post("/{id}/secret", h.HandleRotateSecret)
			r.Post("/{id}/test", h.HandleSendTest)
		})

		// Integration failover (require admin role)
		r.Route("/failover", func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdmin))
			h := deps.FailoverHandler
			r.Get("/", h.HandleList)
			r.Put("/", h.HandleUpsert)
			r.Get("/{integration_type}", h.HandleGet)
			r.Post("/{integration_type}/trigger", h.HandleTrigger)
		})

		// Expense reports. Decisions require a manager.
		r.Route("/expenses/reports", func(r chi.Router) {
			h := deps.ExpenseHandler
			r.Get("/", h.HandleListReports)
			r.Post("/", h.HandleCreateReport)
			r.Get("/{id}", h.HandleGetReport)
			r.Post("/{id}/items", h.HandleAddItem)
			r.Post("/{id}/submit", h.HandleSubmit)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleManager))
				r.Post("/{id}/approve", h.HandleApprove)
				r.Post("/{id}/reject", h.HandleReject)
				r.Post("/{id}/pay", h.HandlePay)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "Endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	return r
}
