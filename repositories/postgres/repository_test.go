package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/repositories"
	"github.com/upb/staffing-erp/tenant"
	"go.uber.org/zap"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return WrapDB(sqlDB, zap.NewNop()), mock
}

func auditRow(orgID uuid.UUID, action string, createdAt time.Time) []driver.Value {
	return []driver.Value{
		uuid.New().String(), orgID.String(), nil, nil, action, "expense_report", uuid.New().String(),
		nil, nil, "INFO", "SUCCESS", nil, nil, nil, nil, createdAt,
	}
}

var auditCols = []string{
	"id", "org_id", "actor_id", "actor_email", "action", "target_type", "target_id",
	"before_data", "after_data", "severity", "outcome", "metadata", "ip_address", "user_agent", "request_id", "created_at",
}

func TestAuditRepository_Insert(t *testing.T) {
	db, mock := newMockDB(t)
	orgID := uuid.New()
	repo := NewAuditRepository(db, tenant.MustScope(orgID), zap.NewNop())

	t.Run("fills org id from scope", func(t *testing.T) {
		event := models.NewAuditEvent(uuid.Nil, models.AuditActionCreate,
			models.NewEntityRef(models.EntityExpenseReport, uuid.New()))

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_events")).
			WithArgs(event.ID, orgID, nil, nil, "CREATE", "expense_report", event.Target.ID,
				nil, nil, "INFO", "SUCCESS", nil, nil, nil, nil, event.CreatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Insert(context.Background(), event))
		assert.Equal(t, orgID, event.OrgID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects another tenant's event", func(t *testing.T) {
		event := models.NewAuditEvent(uuid.New(), models.AuditActionCreate,
			models.NewEntityRef(models.EntityExpenseReport, uuid.New()))

		err := repo.Insert(context.Background(), event)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuditRepository_GetByIDIsTenantFiltered(t *testing.T) {
	db, mock := newMockDB(t)
	orgID := uuid.New()
	id := uuid.New()
	repo := NewAuditRepository(db, tenant.MustScope(orgID), zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_events WHERE org_id = $1 AND id = $2")).
		WithArgs(orgID, id).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_List(t *testing.T) {
	db, mock := newMockDB(t)
	orgID := uuid.New()
	repo := NewAuditRepository(db, tenant.MustScope(orgID), zap.NewNop())
	action := models.AuditActionApprove
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_events WHERE org_id = $1 AND action = $2")).
		WithArgs(orgID, "APPROVE").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4")).
		WithArgs(orgID, "APPROVE", 2, 0).
		WillReturnRows(sqlmock.NewRows(auditCols).
			AddRow(auditRow(orgID, "APPROVE", now)...).
			AddRow(auditRow(orgID, "APPROVE", now.Add(-time.Minute))...))

	events, total, err := repo.List(context.Background(), models.AuditFilter{Action: &action}, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, events, 2)
	assert.Equal(t, models.EntityExpenseReport, events[0].Target.Type)
	assert.Equal(t, models.AuditActionApprove, events[1].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_ListByIPAndSearch(t *testing.T) {
	db, mock := newMockDB(t)
	orgID := uuid.New()
	repo := NewAuditRepository(db, tenant.MustScope(orgID), zap.NewNop())
	ip, search := "203.0.113.7", "50%_off"

	where := "org_id = $1 AND ip_address = $2 AND (actor_email ILIKE $3 OR target_id::text ILIKE $3 OR request_id ILIKE $3)"
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_events WHERE " + where)).
		WithArgs(orgID, ip, `%50\%\_off%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(where + " ORDER BY created_at DESC, id DESC LIMIT $4 OFFSET $5")).
		WithArgs(orgID, ip, `%50\%\_off%`, 20, 0).
		WillReturnRows(sqlmock.NewRows(auditCols))

	events, total, err := repo.List(context.Background(), models.AuditFilter{IPAddress: &ip, Search: &search}, 20, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_Counts(t *testing.T) {
	db, mock := newMockDB(t)
	orgID := uuid.New()
	repo := NewAuditRepository(db, tenant.MustScope(orgID), zap.NewNop())
	since := time.Now().UTC().Add(-24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY action, severity, outcome")).
		WithArgs(orgID, since).
		WillReturnRows(sqlmock.NewRows([]string{"action", "severity", "outcome", "count"}).
			AddRow("CREATE", "INFO", "SUCCESS", 4).
			AddRow("FAILOVER", "HIGH", "FAILURE", 1))

	counts, err := repo.Counts(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, []models.AuditCount{
		{Action: models.AuditActionCreate, Severity: models.SeverityInfo, Outcome: models.OutcomeSuccess, Count: 4},
		{Action: models.AuditActionFailover, Severity: models.SeverityHigh, Outcome: models.OutcomeFailure, Count: 1},
	}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_FilterOptions(t *testing.T) {
	db, mock := newMockDB(t)
	orgID := uuid.New()
	actorID := uuid.New()
	repo := NewAuditRepository(db, tenant.MustScope(orgID), zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ON (actor_id) actor_id")).
		WithArgs(orgID, 100).
		WillReturnRows(sqlmock.NewRows([]string{"actor_id", "actor_email"}).AddRow(actorID.String(), "ops@acme.test"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT action FROM audit_events WHERE org_id = $1 ORDER BY action")).
		WithArgs(orgID).
		WillReturnRows(sqlmock.NewRows([]string{"action"}).AddRow("APPROVE").AddRow("CREATE"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT target_type FROM audit_events WHERE org_id = $1 ORDER BY target_type")).
		WithArgs(orgID).
		WillReturnRows(sqlmock.NewRows([]string{"target_type"}).AddRow("expense_report").AddRow("legacy_table"))

	opts, err := repo.FilterOptions(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, []models.AuditActorOption{{ID: actorID, Email: "ops@acme.test"}}, opts.Actors)
	assert.Equal(t, []models.AuditAction{models.AuditActionApprove, models.AuditActionCreate}, opts.Actions)
	assert.Equal(t, []models.EntityType{models.EntityExpenseReport}, opts.TargetTypes)
	assert.Equal(t, models.Severities(), opts.Severities)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_ApplyRetention(t *testing.T) {
	db, mock := newMockDB(t)
	orgID := uuid.New()
	repo := NewAuditRepository(db, tenant.MustScope(orgID), zap.NewNop())
	cutoff := time.Now().AddDate(0, 0, -90)

	tests := []struct {
		name   string
		action models.RetentionAction
		query  string
	}{
		{"archive", models.RetentionArchive, "INSERT INTO audit_events_archive SELECT * FROM moved"},
		{"delete", models.RetentionDelete, "DELETE FROM audit_events WHERE org_id = $1"},
		{"anonymize", models.RetentionAnonymize, "SET actor_id = NULL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock.ExpectExec(regexp.QuoteMeta(tt.query)).
				WithArgs(orgID, "expense_report", cutoff).
				WillReturnResult(sqlmock.NewResult(0, 7))

			n, err := repo.ApplyRetention(context.Background(), models.EntityExpenseReport, cutoff, tt.action)
			require.NoError(t, err)
			assert.Equal(t, int64(7), n)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("unknown action", func(t *testing.T) {
		_, err := repo.ApplyRetention(context.Background(), models.EntityExpenseReport, cutoff, "shred")
		assert.Error(t, err)
	})
}

func TestWebhookDeliveryRepository_Transition(t *testing.T) {
	orgID := uuid.New()
	now := time.Now().UTC()
	next := now.Add(time.Minute)

	newDelivery := func() *models.WebhookDelivery {
		d := models.NewWebhookDelivery(orgID, uuid.New(), "expense_report.approved", []byte(`{}`))
		d.Status = models.DeliveryRetrying
		d.AttemptNumber = 2
		d.NextRetryAt = &next
		d.LastAttemptAt = &now
		d.UpdatedAt = now
		return d
	}

	t.Run("applies when state matches", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewWebhookDeliveryRepository(db, tenant.MustScope(orgID), zap.NewNop())
		d := newDelivery()

		mock.ExpectExec(regexp.QuoteMeta("WHERE org_id = $1 AND id = $2 AND status = $13 AND attempt_number = $14")).
			WithArgs(orgID, d.ID, "retrying", 2, next, nil, "", "", nil, now, nil, now, "pending", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Transition(context.Background(), d, models.DeliveryPending, 1))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale state is a failed precondition", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewWebhookDeliveryRepository(db, tenant.MustScope(orgID), zap.NewNop())
		d := newDelivery()

		mock.ExpectExec("UPDATE webhook_deliveries").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM webhook_deliveries")).
			WithArgs(orgID, d.ID).
			WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

		err := repo.Transition(context.Background(), d, models.DeliveryPending, 1)
		assert.ErrorIs(t, err, repositories.ErrPreconditionFailed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row is not found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewWebhookDeliveryRepository(db, tenant.MustScope(orgID), zap.NewNop())
		d := newDelivery()

		mock.ExpectExec("UPDATE webhook_deliveries").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM webhook_deliveries")).
			WithArgs(orgID, d.ID).
			WillReturnError(sql.ErrNoRows)

		err := repo.Transition(context.Background(), d, models.DeliveryPending, 1)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWebhookDeliveryRepository_MarkAllFailed(t *testing.T) {
	db, mock := newMockDB(t)
	orgID := uuid.New()
	subID := uuid.New()
	at := time.Now().UTC()
	repo := NewWebhookDeliveryRepository(db, tenant.MustScope(orgID), zap.NewNop())

	mock.ExpectExec(regexp.QuoteMeta("AND subscription_id = $5")).
		WithArgs(orgID, "failed", at, "dlq", subID).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.MarkAllFailed(context.Background(), &subID, at)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxQueue_ClaimBatch(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := &OutboxQueue{db: db, logger: zap.NewNop(), now: func() time.Time { return now }}
	lease := 2 * time.Minute
	msgID, orgID, deliveryID := uuid.New(), uuid.New(), uuid.New()
	lockedUntil := now.Add(lease)

	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(now, now.Add(lease), 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "org_id", "delivery_id", "attempt_number", "available_at", "locked_until", "created_at"}).
			AddRow(msgID.String(), orgID.String(), deliveryID.String(), 2, now, lockedUntil, now))

	msgs, err := q.ClaimBatch(context.Background(), 10, lease)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, orgID, msgs[0].OrgID)
	assert.Equal(t, 2, msgs[0].AttemptNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxQueue_CompleteTwice(t *testing.T) {
	db, mock := newMockDB(t)
	q := NewOutboxQueue(db, zap.NewNop())
	id := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("processed_at IS NULL")).WithArgs(id, at).WillReturnResult(sqlmock.NewResult(0, 0))

	err := q.Complete(context.Background(), id, at)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailoverRepository_Switch(t *testing.T) {
	orgID := uuid.New()
	at := time.Now().UTC()
	cols := []string{"id", "org_id", "integration_type", "primary_provider", "backup_provider", "failure_threshold",
		"auto_failover", "auto_recovery", "current_active", "failover_count", "last_failover_at", "last_failover_reason",
		"created_at", "updated_at"}

	t.Run("switches to the other target", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewFailoverRepository(db, tenant.MustScope(orgID), zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("AND current_active = $3")).
			WithArgs(orgID, "payroll", "primary", "backup", at, "manual").
			WillReturnRows(sqlmock.NewRows(cols).AddRow(
				uuid.New().String(), orgID.String(), "payroll", "adp", "gusto", 3, true, false, "backup", 1, at, "manual", at, at))

		c, err := repo.Switch(context.Background(), "payroll", models.FailoverPrimary, "manual", at)
		require.NoError(t, err)
		assert.Equal(t, models.FailoverBackup, c.CurrentActive)
		assert.Equal(t, 1, c.FailoverCount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost race is a failed precondition", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewFailoverRepository(db, tenant.MustScope(orgID), zap.NewNop())

		mock.ExpectQuery("UPDATE failover_configs").WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM failover_configs")).
			WithArgs(orgID, "payroll").
			WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

		_, err := repo.Switch(context.Background(), "payroll", models.FailoverPrimary, "manual", at)
		assert.ErrorIs(t, err, repositories.ErrPreconditionFailed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestExpenseRepository_Transition(t *testing.T) {
	orgID := uuid.New()
	id := uuid.New()
	actor := uuid.New()
	at := time.Now().UTC()

	t.Run("approve stamps reviewer", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewExpenseRepository(db, tenant.MustScope(orgID), zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("SET status = $4, updated_at = $5, approved_at = $6, approved_by = $7 WHERE org_id = $1 AND id = $2 AND status = $3")).
			WithArgs(orgID, id, "pending_approval", "approved", at, at, actor).
			WillReturnRows(sqlmock.NewRows([]string{"id", "org_id", "employee_id", "title", "currency", "total_amount", "status",
				"submitted_at", "approved_by", "approved_at", "rejection_reason", "paid_at", "created_at", "updated_at"}).
				AddRow(id.String(), orgID.String(), uuid.New().String(), "Trip", "USD", 12500, "approved", at, actor.String(), at, "", nil, at, at))

		report, err := repo.Transition(context.Background(), id, models.ExpensePendingApproval, models.ExpenseApproved,
			repositories.ExpenseChange{At: at, ActorID: &actor})
		require.NoError(t, err)
		assert.Equal(t, models.ExpenseApproved, report.Status)
		require.NotNil(t, report.ApprovedBy)
		assert.Equal(t, actor, *report.ApprovedBy)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second approval loses", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewExpenseRepository(db, tenant.MustScope(orgID), zap.NewNop())

		mock.ExpectQuery("UPDATE expense_reports").WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM expense_reports")).
			WithArgs(orgID, id).
			WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

		_, err := repo.Transition(context.Background(), id, models.ExpensePendingApproval, models.ExpenseApproved,
			repositories.ExpenseChange{At: at, ActorID: &actor})
		assert.ErrorIs(t, err, repositories.ErrPreconditionFailed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestExpenseRepository_TransitionChecksExpectedTotal(t *testing.T) {
	orgID := uuid.New()
	id := uuid.New()
	at := time.Now().UTC()
	total := int64(5000)

	db, mock := newMockDB(t)
	repo := NewExpenseRepository(db, tenant.MustScope(orgID), zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("WHERE org_id = $1 AND id = $2 AND status = $3 AND total_amount = $9 RETURNING")).
		WithArgs(orgID, id, "draft", "approved", at, at, at, nil, total).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM expense_reports")).
		WithArgs(orgID, id).
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

	_, err := repo.Transition(context.Background(), id, models.ExpenseDraft, models.ExpenseApproved,
		repositories.ExpenseChange{At: at, ExpectedTotal: &total})
	assert.ErrorIs(t, err, repositories.ErrPreconditionFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpenseRepository_GetSettingsWithoutRow(t *testing.T) {
	db, mock := newMockDB(t)
	orgID := uuid.New()
	repo := NewExpenseRepository(db, tenant.MustScope(orgID), zap.NewNop())

	mock.ExpectQuery("SELECT auto_approval_limit").WithArgs(orgID).WillReturnError(sql.ErrNoRows)

	settings, err := repo.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Nil(t, settings.AutoApprovalLimit)
	assert.False(t, settings.AutoApproves(1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrganizationRepository_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrganizationRepository(db, zap.NewNop())
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM organizations WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "slug", "created_at", "updated_at"}).
			AddRow(id.String(), "Acme Staffing", "acme", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM organizations WHERE id = $1")).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	org, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "acme", org.Slug)

	_, err = repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryFactory_ForTenantRequiresScope(t *testing.T) {
	db, _ := newMockDB(t)
	factory := NewRepositoryFactory(db, zap.NewNop())

	assert.PanicsWithValue(t, tenant.ErrNoTenant, func() { factory.ForTenant(tenant.Scope{}) })

	scope := tenant.MustScope(uuid.New())
	assert.Equal(t, scope, factory.ForTenant(scope).Scope)
}

func TestMapError(t *testing.T) {
	assert.Nil(t, mapError(nil, "op"))
	assert.ErrorIs(t, mapError(sql.ErrNoRows, "op"), repositories.ErrNotFound)
	assert.ErrorIs(t, mapError(&pq.Error{Code: "23505"}, "op"), repositories.ErrDuplicate)

	other := errors.New("connection reset")
	err := mapError(other, "op")
	assert.ErrorIs(t, err, other)
	assert.Contains(t, err.Error(), "op")
}

func TestTransactionManager_InTransaction(t *testing.T) {
	t.Run("commits and exposes tx to repositories", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())
		orgID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE webhook_subscriptions").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := tm.InTransaction(context.Background(), func(ctx context.Context, tx repositories.Transaction) error {
			_, ok := GetTransactionFromContext(ctx)
			assert.True(t, ok)
			return NewWebhookSubscriptionRepository(db, tenant.MustScope(orgID), zap.NewNop()).
				UpdateSecret(ctx, uuid.New(), "s3cret")
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())
		boom := errors.New("boom")

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := tm.InTransaction(context.Background(), func(ctx context.Context, tx repositories.Transaction) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
