package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/repositories/memory"
	"github.com/upb/staffing-erp/tenant"
	"go.uber.org/zap"
)

// MockSender is a mock implementation of Sender
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, req Request) Outcome {
	args := m.Called(ctx, req)
	return args.Get(0).(Outcome)
}

type dispatcherFixture struct {
	store      *memory.Store
	svc        *Service
	dispatcher *Dispatcher
	sender     *MockSender
	scope      tenant.Scope
	clock      time.Time
}

func newDispatcherFixture(t *testing.T, config DispatcherConfig) *dispatcherFixture {
	t.Helper()
	f := &dispatcherFixture{
		store:  memory.NewStore(),
		sender: new(MockSender),
		scope:  tenant.MustScope(uuid.New()),
		clock:  time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return f.clock }
	f.store.Now = now

	f.svc = NewService(f.store, zap.NewNop())
	f.svc.now = now

	f.dispatcher = NewDispatcher(f.store, f.sender, zap.NewNop(), config)
	f.dispatcher.now = now
	f.dispatcher.delay = Delay
	return f
}

func (f *dispatcherFixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func (f *dispatcherFixture) subscription(t *testing.T, policy models.RetryPolicy) *models.WebhookSubscription {
	t.Helper()
	sub, _, err := f.svc.CreateSubscription(context.Background(), f.scope, models.SystemActor(), SubscriptionInput{
		URL:         "https://hooks.example.com/erp",
		EventTypes:  []string{"*"},
		RetryPolicy: &policy,
	})
	require.NoError(t, err)
	return sub
}

func (f *dispatcherFixture) publish(t *testing.T) *models.WebhookDelivery {
	t.Helper()
	deliveries, err := f.svc.Publish(context.Background(), f.store.ForTenant(f.scope), models.EventExpenseApproved, map[string]string{"id": "r-1"})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	return deliveries[0]
}

func (f *dispatcherFixture) delivery(t *testing.T, id uuid.UUID) *models.WebhookDelivery {
	t.Helper()
	d, err := f.store.ForTenant(f.scope).Deliveries.GetByID(context.Background(), id)
	require.NoError(t, err)
	return d
}

func (f *dispatcherFixture) drain(t *testing.T) int {
	t.Helper()
	n, err := f.dispatcher.DrainOnce(context.Background())
	require.NoError(t, err)
	return n
}

func TestDispatcher_SuccessfulDelivery(t *testing.T) {
	f := newDispatcherFixture(t, DispatcherConfig{})
	sub := f.subscription(t, fixedPolicy(3))
	d := f.publish(t)

	f.sender.On("Send", mock.Anything, mock.MatchedBy(func(req Request) bool {
		return req.DeliveryID == d.ID && req.URL == sub.URL && req.Secret == sub.Secret && !req.Test
	})).Return(Outcome{StatusCode: 200, Body: "ok", Duration: 30 * time.Millisecond}).Once()

	assert.Equal(t, 1, f.drain(t))

	got := f.delivery(t, d.ID)
	assert.Equal(t, models.DeliverySuccess, got.Status)
	require.NotNil(t, got.DeliveredAt)
	assert.Equal(t, 200, *got.ResponseStatus)
	assert.Empty(t, f.store.PendingOutbox())

	updated, err := f.svc.GetSubscription(context.Background(), f.scope, sub.ID)
	require.NoError(t, err)
	assert.Zero(t, updated.ConsecutiveFailures)
	assert.NotNil(t, updated.LastSuccessAt)

	f.sender.AssertExpectations(t)
}

func TestDispatcher_RetriesUntilDeadLetter(t *testing.T) {
	f := newDispatcherFixture(t, DispatcherConfig{})
	sub := f.subscription(t, fixedPolicy(3))
	d := f.publish(t)

	f.sender.On("Send", mock.Anything, mock.Anything).Return(Outcome{StatusCode: 500}).Times(3)

	statuses := []models.DeliveryStatus{f.delivery(t, d.ID).Status}

	assert.Equal(t, 1, f.drain(t))
	got := f.delivery(t, d.ID)
	statuses = append(statuses, got.Status)
	assert.Equal(t, 2, got.AttemptNumber)
	assert.Equal(t, f.clock.Add(5*time.Second), *got.NextRetryAt)

	// Not due yet.
	assert.Equal(t, 0, f.drain(t))

	f.advance(5 * time.Second)
	assert.Equal(t, 1, f.drain(t))
	got = f.delivery(t, d.ID)
	statuses = append(statuses, got.Status)
	assert.Equal(t, 3, got.AttemptNumber)

	f.advance(5 * time.Second)
	assert.Equal(t, 1, f.drain(t))
	got = f.delivery(t, d.ID)
	statuses = append(statuses, got.Status)

	assert.Equal(t, []models.DeliveryStatus{
		models.DeliveryPending,
		models.DeliveryRetrying,
		models.DeliveryRetrying,
		models.DeliveryDLQ,
	}, statuses)
	assert.Equal(t, 3, got.AttemptNumber)
	assert.Nil(t, got.NextRetryAt)
	assert.Empty(t, f.store.PendingOutbox())

	updated, err := f.svc.GetSubscription(context.Background(), f.scope, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.ConsecutiveFailures)
	assert.Equal(t, models.SubscriptionActive, updated.Status)

	f.sender.AssertExpectations(t)
}

func TestDispatcher_AutoDisable(t *testing.T) {
	f := newDispatcherFixture(t, DispatcherConfig{AutoDisableThreshold: 2})
	sub := f.subscription(t, fixedPolicy(1))

	f.sender.On("Send", mock.Anything, mock.Anything).Return(Outcome{StatusCode: 410}).Times(2)

	f.publish(t)
	f.drain(t)
	got, err := f.svc.GetSubscription(context.Background(), f.scope, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, got.Status)

	f.publish(t)
	f.drain(t)
	got, err = f.svc.GetSubscription(context.Background(), f.scope, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionDisabled, got.Status)
	assert.Equal(t, 2, got.ConsecutiveFailures)

	var disabled *models.AuditEvent
	for _, e := range f.store.AuditEvents(f.scope.OrgID()) {
		if e.Action == models.AuditActionStatusChange {
			e := e
			disabled = &e
		}
	}
	require.NotNil(t, disabled)
	assert.Nil(t, disabled.ActorID)
	assert.Equal(t, models.SeverityHigh, disabled.Severity)

	f.sender.AssertExpectations(t)
}

func TestDispatcher_InactiveSubscriptionFailsDelivery(t *testing.T) {
	f := newDispatcherFixture(t, DispatcherConfig{})
	sub := f.subscription(t, fixedPolicy(3))
	d := f.publish(t)
	require.NoError(t, f.svc.SetStatus(context.Background(), f.scope, models.SystemActor(), sub.ID, models.SubscriptionInactive))

	assert.Equal(t, 1, f.drain(t))

	got := f.delivery(t, d.ID)
	assert.Equal(t, models.DeliveryFailed, got.Status)
	assert.Empty(t, f.store.PendingOutbox())
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestDispatcher_TestEventIgnoresSubscriptionStatus(t *testing.T) {
	f := newDispatcherFixture(t, DispatcherConfig{})
	sub := f.subscription(t, fixedPolicy(3))
	require.NoError(t, f.svc.SetStatus(context.Background(), f.scope, models.SystemActor(), sub.ID, models.SubscriptionDisabled))

	d, err := f.svc.SendTest(context.Background(), f.scope, models.SystemActor(), sub.ID)
	require.NoError(t, err)

	f.sender.On("Send", mock.Anything, mock.MatchedBy(func(req Request) bool { return req.Test })).
		Return(Outcome{StatusCode: 204}).Once()

	f.drain(t)
	assert.Equal(t, models.DeliverySuccess, f.delivery(t, d.ID).Status)
	f.sender.AssertExpectations(t)
}

func TestDispatcher_StaleMessageIsDropped(t *testing.T) {
	f := newDispatcherFixture(t, DispatcherConfig{})
	f.subscription(t, fixedPolicy(3))
	d := f.publish(t)

	msgs, err := f.store.OutboxQueue().ClaimBatch(context.Background(), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	stale := *msgs[0]
	stale.AttemptNumber = 2

	require.NoError(t, f.dispatcher.Process(context.Background(), &stale))

	assert.Equal(t, models.DeliveryPending, f.delivery(t, d.ID).Status)
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestDispatcher_DuplicateConsumerCannotDoubleApply(t *testing.T) {
	f := newDispatcherFixture(t, DispatcherConfig{})
	f.subscription(t, fixedPolicy(3))
	d := f.publish(t)

	msgs, err := f.store.OutboxQueue().ClaimBatch(context.Background(), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	first, second := *msgs[0], *msgs[0]

	f.sender.On("Send", mock.Anything, mock.Anything).Return(Outcome{StatusCode: 500}).Once()

	require.NoError(t, f.dispatcher.Process(context.Background(), &first))
	require.NoError(t, f.dispatcher.Process(context.Background(), &second))

	got := f.delivery(t, d.ID)
	assert.Equal(t, models.DeliveryRetrying, got.Status)
	assert.Equal(t, 2, got.AttemptNumber)
	assert.Len(t, f.store.PendingOutbox(), 1)
	f.sender.AssertExpectations(t)
}

func TestDispatcher_StartStop(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := memory.NewStore()
	scope := tenant.MustScope(uuid.New())
	svc := NewService(store, zap.NewNop())
	sub, _, err := svc.CreateSubscription(context.Background(), scope, models.SystemActor(), SubscriptionInput{
		URL:        server.URL,
		EventTypes: []string{"*"},
	})
	require.NoError(t, err)

	_, err = svc.Publish(context.Background(), store.ForTenant(scope), models.EventExpensePaid, json.RawMessage(`{}`))
	require.NoError(t, err)

	dispatcher := NewDispatcher(store, NewHTTPSender(SenderConfig{Timeout: time.Second}), zap.NewNop(), DispatcherConfig{
		WorkerCount:  2,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, dispatcher.Start())
	assert.Error(t, dispatcher.Start())

	assert.Eventually(t, func() bool {
		got, err := svc.GetSubscription(context.Background(), scope, sub.ID)
		return err == nil && got.LastSuccessAt != nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, dispatcher.Stop(time.Second))
	assert.Error(t, dispatcher.Stop(time.Second))
	assert.Equal(t, int32(1), hits.Load())
}
