package webhook

import (
	"errors"
	"fmt"
	"time"

	"github.com/upb/staffing-erp/models"
)

// ErrAttemptNotDue is returned when an outcome is applied to a delivery that
// is not waiting for an attempt
var ErrAttemptNotDue = errors.New("delivery is not awaiting an attempt")

// Outcome is the result of one HTTP attempt
type Outcome struct {
	StatusCode int
	Body       string
	Err        error
	Duration   time.Duration
}

// Succeeded reports whether the subscriber answered 2xx
func (o Outcome) Succeeded() bool {
	return o.Err == nil && o.StatusCode >= 200 && o.StatusCode < 300
}

func (o Outcome) errorMessage() string {
	switch {
	case o.Err != nil:
		return o.Err.Error()
	case !o.Succeeded():
		return fmt.Sprintf("unexpected status %d", o.StatusCode)
	}
	return ""
}

// DelayFunc computes the wait before the next attempt after failed attempt n
type DelayFunc func(policy models.RetryPolicy, attempt int) time.Duration

// Advance applies the outcome of the delivery's current attempt.
//
// On success the delivery becomes success. On failure of attempt n it becomes
// retrying on attempt n+1 with next_retry_at = now + delay(n) while
// n < MaxRetries, and dlq on attempt n otherwise.
func Advance(d *models.WebhookDelivery, policy models.RetryPolicy, outcome Outcome, now time.Time, delay DelayFunc) error {
	if d.Status != models.DeliveryPending && d.Status != models.DeliveryRetrying {
		return fmt.Errorf("%w: status %s", ErrAttemptNotDue, d.Status)
	}
	if delay == nil {
		delay = JitteredDelay
	}

	d.LastAttemptAt = &now
	d.UpdatedAt = now
	d.ResponseStatus = nil
	if outcome.StatusCode > 0 {
		code := outcome.StatusCode
		d.ResponseStatus = &code
	}
	d.ResponseBody = outcome.Body
	d.ErrorMessage = outcome.errorMessage()
	ms := int(outcome.Duration.Milliseconds())
	d.DurationMs = &ms

	switch {
	case outcome.Succeeded():
		d.Status = models.DeliverySuccess
		d.DeliveredAt = &now
		d.NextRetryAt = nil
	case d.AttemptNumber < policy.MaxRetries:
		next := now.Add(delay(policy, d.AttemptNumber))
		d.Status = models.DeliveryRetrying
		d.AttemptNumber++
		d.NextRetryAt = &next
	default:
		d.Status = models.DeliveryDLQ
		d.NextRetryAt = nil
	}
	return nil
}

// Abandon moves a waiting delivery to failed without attempting it, used when
// its subscription no longer accepts events
func Abandon(d *models.WebhookDelivery, reason string, now time.Time) error {
	if d.Status != models.DeliveryPending && d.Status != models.DeliveryRetrying {
		return fmt.Errorf("%w: status %s", ErrAttemptNotDue, d.Status)
	}
	d.Status = models.DeliveryFailed
	d.ErrorMessage = reason
	d.NextRetryAt = nil
	d.UpdatedAt = now
	return nil
}
