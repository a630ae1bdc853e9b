package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/upb/staffing-erp/config"
	"github.com/upb/staffing-erp/handlers"
	"github.com/upb/staffing-erp/middleware"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/repositories"
	"github.com/upb/staffing-erp/repositories/postgres"
	"github.com/upb/staffing-erp/services/audit"
	"github.com/upb/staffing-erp/services/expense"
	"github.com/upb/staffing-erp/services/failover"
	"github.com/upb/staffing-erp/services/webhook"
	"github.com/upb/staffing-erp/session"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger
	Store  repositories.Store

	// Auth
	Sessions       *session.Manager
	AuthMiddleware *middleware.AuthMiddleware

	// Services
	Audit    *audit.Service
	Webhooks *webhook.Service
	Failover *failover.Service
	Expenses *expense.Service

	// Handlers
	HealthHandler   *handlers.HealthHandler
	SessionHandler  *handlers.SessionHandler
	AuditHandler    *handlers.AuditHandler
	WebhookHandler  *handlers.WebhookHandler
	FailoverHandler *handlers.FailoverHandler
	ExpenseHandler  *handlers.ExpenseHandler
}

// NewDependencies opens the database and wires every component on top of it
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	db, err := postgres.NewDB(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if cfg.Database.InitSchema {
		if err := db.InitSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		logger.Info("database schema initialized")
	}

	deps, err := NewWithStore(cfg, logger, postgres.NewRepositoryFactory(db, logger), db.DB)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	deps.DB = db

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// NewWithStore wires services and handlers over an existing store. sqlDB
// backs the readiness check and may be nil.
func NewWithStore(cfg *config.Config, logger *zap.Logger, store repositories.Store, sqlDB *sql.DB) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
		Store:  store,
	}

	if err := deps.initAuth(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}
	deps.initServices(cfg)
	deps.initHandlers(sqlDB)

	return deps, nil
}

func (d *Dependencies) initAuth(cfg *config.Config) error {
	if cfg.Session.Secret == "" {
		d.Logger.Warn("session secret not configured, protected routes will reject every request")
		// Use reject-all validator so protected routes return 401
		d.AuthMiddleware = middleware.NewAuthMiddleware(rejectAllValidator{}, cfg.Session.CookieName, d.Logger).
			WithOrganizations(d.Store.Organizations())
		return nil
	}

	sessions, err := session.NewManager(session.Config{
		Secret: cfg.Session.Secret,
		Issuer: cfg.Session.Issuer,
		TTL:    cfg.Session.TTL,
	})
	if err != nil {
		return err
	}
	d.Sessions = sessions
	d.AuthMiddleware = middleware.NewAuthMiddleware(sessions, cfg.Session.CookieName, d.Logger).
		WithOrganizations(d.Store.Organizations())
	return nil
}

func (d *Dependencies) initServices(cfg *config.Config) {
	d.Audit = audit.NewService(d.Store, d.Logger, audit.Config{ExportMaxRows: cfg.Audit.ExportMaxRows})
	d.Webhooks = webhook.NewService(d.Store, d.Logger)
	d.Failover = failover.NewService(d.Store, d.Logger)
	d.Expenses = expense.NewService(d.Store, d.Webhooks, d.Logger, cfg.Expenses.DefaultCurrency)
}

func (d *Dependencies) initHandlers(sqlDB *sql.DB) {
	d.HealthHandler = handlers.NewHealthHandler(sqlDB, d.Logger)
	d.SessionHandler = handlers.NewSessionHandler(d.Logger)
	d.AuditHandler = handlers.NewAuditHandler(d.Audit, d.Logger)
	d.WebhookHandler = handlers.NewWebhookHandler(d.Webhooks, d.Logger)
	d.FailoverHandler = handlers.NewFailoverHandler(d.Failover, d.Logger)
	d.ExpenseHandler = handlers.NewExpenseHandler(d.Expenses, d.Logger)
}

// NewDispatcher builds the outbox dispatcher from the webhook settings
func (d *Dependencies) NewDispatcher() *webhook.Dispatcher {
	wh := d.Config.Webhooks
	sender := webhook.NewHTTPSender(webhook.SenderConfig{
		Timeout:           wh.RequestTimeout,
		UserAgent:         wh.UserAgent,
		ResponseBodyLimit: wh.ResponseBodyLimit,
	})
	return webhook.NewDispatcher(d.Store, sender, d.Logger, webhook.DispatcherConfig{
		WorkerCount:          wh.WorkerCount,
		BatchSize:            wh.BatchSize,
		PollInterval:         wh.PollInterval,
		LeaseDuration:        wh.LeaseDuration,
		AutoDisableThreshold: wh.AutoDisableThreshold,
	})
}

// rejectAllValidator rejects all tokens (used when no session secret is configured)
type rejectAllValidator struct{}

func (rejectAllValidator) ValidateToken(context.Context, string) (*models.Principal, error) {
	return nil, errors.New("authentication not configured")
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Close database connection
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
