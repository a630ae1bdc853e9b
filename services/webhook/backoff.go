package webhook

import (
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/upb/staffing-erp/models"
)

// Delay returns the wait scheduled after failed attempt n (1-based) without
// jitter: fixed waits base, linear base*n, exponential base*2^(n-1). Every
// strategy is capped at MaxDelay when it is positive.
func Delay(policy models.RetryPolicy, attempt int) time.Duration {
	return nth(newBackoff(policy, false), attempt)
}

// JitteredDelay is Delay spread uniformly by ±JitterPercent
func JitteredDelay(policy models.RetryPolicy, attempt int) time.Duration {
	return nth(newBackoff(policy, true), attempt)
}

func newBackoff(policy models.RetryPolicy, jitter bool) retry.Backoff {
	if policy.BaseDelay <= 0 {
		return retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	}

	var b retry.Backoff
	switch policy.Strategy {
	case models.BackoffFixed:
		b = retry.NewConstant(policy.BaseDelay)
	case models.BackoffLinear:
		b = linearBackoff(policy.BaseDelay)
	default:
		b = retry.NewExponential(policy.BaseDelay)
	}
	if policy.MaxDelay > 0 {
		b = retry.WithCappedDuration(policy.MaxDelay, b)
	}
	if jitter && policy.JitterPercent > 0 {
		b = retry.WithJitterPercent(uint64(policy.JitterPercent), b)
	}
	return b
}

func linearBackoff(base time.Duration) retry.Backoff {
	var n time.Duration
	return retry.BackoffFunc(func() (time.Duration, bool) {
		n++
		return base * n, false
	})
}

// nth advances a fresh backoff to the given attempt
func nth(b retry.Backoff, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d, _ = b.Next()
	}
	if d < 0 {
		d = 0
	}
	return d
}
