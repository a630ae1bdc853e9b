package webhook

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/staffing-erp/models"
)

var stateNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func fixedPolicy(maxRetries int) models.RetryPolicy {
	return models.RetryPolicy{MaxRetries: maxRetries, Strategy: models.BackoffFixed, BaseDelay: 5 * time.Second}
}

func newDelivery() *models.WebhookDelivery {
	return models.NewWebhookDelivery(uuid.New(), uuid.New(), "expense_report.approved", []byte(`{}`))
}

func TestOutcome_Succeeded(t *testing.T) {
	assert.True(t, Outcome{StatusCode: 200}.Succeeded())
	assert.True(t, Outcome{StatusCode: 204}.Succeeded())
	assert.False(t, Outcome{StatusCode: 302}.Succeeded())
	assert.False(t, Outcome{StatusCode: 500}.Succeeded())
	assert.False(t, Outcome{StatusCode: 200, Err: errors.New("read failed")}.Succeeded())
	assert.False(t, Outcome{Err: errors.New("connection refused")}.Succeeded())
}

func TestAdvance_Success(t *testing.T) {
	d := newDelivery()

	err := Advance(d, fixedPolicy(3), Outcome{StatusCode: 200, Body: "ok", Duration: 120 * time.Millisecond}, stateNow, Delay)
	require.NoError(t, err)

	assert.Equal(t, models.DeliverySuccess, d.Status)
	assert.Equal(t, 1, d.AttemptNumber)
	require.NotNil(t, d.DeliveredAt)
	assert.Equal(t, stateNow, *d.DeliveredAt)
	assert.Nil(t, d.NextRetryAt)
	assert.Equal(t, 200, *d.ResponseStatus)
	assert.Equal(t, "ok", d.ResponseBody)
	assert.Equal(t, 120, *d.DurationMs)
	assert.Empty(t, d.ErrorMessage)
}

func TestAdvance_FailureSchedulesRetry(t *testing.T) {
	d := newDelivery()

	err := Advance(d, fixedPolicy(3), Outcome{StatusCode: 503}, stateNow, Delay)
	require.NoError(t, err)

	assert.Equal(t, models.DeliveryRetrying, d.Status)
	assert.Equal(t, 2, d.AttemptNumber)
	require.NotNil(t, d.NextRetryAt)
	assert.Equal(t, stateNow.Add(5*time.Second), *d.NextRetryAt)
	assert.Equal(t, "unexpected status 503", d.ErrorMessage)
	assert.Nil(t, d.DeliveredAt)
}

func TestAdvance_TransportErrorHasNoStatus(t *testing.T) {
	d := newDelivery()

	err := Advance(d, fixedPolicy(3), Outcome{Err: errors.New("dial tcp: connection refused")}, stateNow, Delay)
	require.NoError(t, err)

	assert.Nil(t, d.ResponseStatus)
	assert.Equal(t, "dial tcp: connection refused", d.ErrorMessage)
	assert.Equal(t, models.DeliveryRetrying, d.Status)
}

func TestAdvance_MaxRetriesSequence(t *testing.T) {
	d := newDelivery()
	policy := fixedPolicy(3)
	failure := Outcome{StatusCode: 500}

	var seen []models.DeliveryStatus
	seen = append(seen, d.Status)
	now := stateNow
	for i := 0; i < 3; i++ {
		require.NoError(t, Advance(d, policy, failure, now, Delay))
		seen = append(seen, d.Status)
		now = now.Add(5 * time.Second)
	}

	assert.Equal(t, []models.DeliveryStatus{
		models.DeliveryPending,
		models.DeliveryRetrying,
		models.DeliveryRetrying,
		models.DeliveryDLQ,
	}, seen)
	assert.Equal(t, 3, d.AttemptNumber)
	assert.Nil(t, d.NextRetryAt)

	err := Advance(d, policy, failure, now, Delay)
	assert.ErrorIs(t, err, ErrAttemptNotDue)
}

func TestAdvance_SingleAttemptPolicyGoesStraightToDLQ(t *testing.T) {
	d := newDelivery()

	require.NoError(t, Advance(d, fixedPolicy(1), Outcome{StatusCode: 400}, stateNow, Delay))

	assert.Equal(t, models.DeliveryDLQ, d.Status)
	assert.Equal(t, 1, d.AttemptNumber)
}

func TestAdvance_UsesDelayOfFailedAttempt(t *testing.T) {
	d := newDelivery()
	d.Status = models.DeliveryRetrying
	d.AttemptNumber = 3
	policy := models.RetryPolicy{MaxRetries: 5, Strategy: models.BackoffExponential, BaseDelay: time.Second}

	require.NoError(t, Advance(d, policy, Outcome{StatusCode: 500}, stateNow, Delay))

	assert.Equal(t, 4, d.AttemptNumber)
	assert.Equal(t, stateNow.Add(4*time.Second), *d.NextRetryAt)
}

func TestAbandon(t *testing.T) {
	d := newDelivery()

	require.NoError(t, Abandon(d, "subscription is not active", stateNow))
	assert.Equal(t, models.DeliveryFailed, d.Status)
	assert.Equal(t, "subscription is not active", d.ErrorMessage)

	assert.ErrorIs(t, Abandon(d, "again", stateNow), ErrAttemptNotDue)
}
