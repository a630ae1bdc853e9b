package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus is the lifecycle state of a webhook subscription
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionInactive SubscriptionStatus = "inactive"
	SubscriptionDisabled SubscriptionStatus = "disabled"
)

// Valid reports whether s is a known subscription status
func (s SubscriptionStatus) Valid() bool {
	return s == SubscriptionActive || s == SubscriptionInactive || s == SubscriptionDisabled
}

// BackoffStrategy selects how retry delays grow
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy configures delivery retries for one subscription
type RetryPolicy struct {
	MaxRetries    int             `json:"max_retries"`
	Strategy      BackoffStrategy `json:"strategy"`
	BaseDelay     time.Duration   `json:"base_delay"`
	MaxDelay      time.Duration   `json:"max_delay"`
	JitterPercent int             `json:"jitter_percent"`
}

// DefaultRetryPolicy is applied to subscriptions created without one
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    5,
		Strategy:      BackoffExponential,
		BaseDelay:     30 * time.Second,
		MaxDelay:      time.Hour,
		JitterPercent: 10,
	}
}

// Validate checks retry policy bounds
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 1 || p.MaxRetries > 20 {
		return fmt.Errorf("max retries must be between 1 and 20")
	}
	switch p.Strategy {
	case BackoffFixed, BackoffLinear, BackoffExponential:
	default:
		return fmt.Errorf("invalid backoff strategy %q", p.Strategy)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be positive")
	}
	if p.MaxDelay < 0 {
		return fmt.Errorf("max delay cannot be negative")
	}
	if p.JitterPercent < 0 || p.JitterPercent > 100 {
		return fmt.Errorf("jitter percent must be between 0 and 100")
	}
	return nil
}

type retryPolicyJSON struct {
	MaxRetries       int             `json:"max_retries"`
	Strategy         BackoffStrategy `json:"strategy"`
	BaseDelaySeconds float64         `json:"base_delay_seconds"`
	MaxDelaySeconds  float64         `json:"max_delay_seconds"`
	JitterPercent    int             `json:"jitter_percent"`
}

// MarshalJSON renders delays in seconds
func (p RetryPolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(retryPolicyJSON{
		MaxRetries:       p.MaxRetries,
		Strategy:         p.Strategy,
		BaseDelaySeconds: p.BaseDelay.Seconds(),
		MaxDelaySeconds:  p.MaxDelay.Seconds(),
		JitterPercent:    p.JitterPercent,
	})
}

// UnmarshalJSON reads delays in seconds
func (p *RetryPolicy) UnmarshalJSON(b []byte) error {
	var raw retryPolicyJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = RetryPolicy{
		MaxRetries:    raw.MaxRetries,
		Strategy:      raw.Strategy,
		BaseDelay:     time.Duration(raw.BaseDelaySeconds * float64(time.Second)),
		MaxDelay:      time.Duration(raw.MaxDelaySeconds * float64(time.Second)),
		JitterPercent: raw.JitterPercent,
	}
	return nil
}

// WebhookSubscription is tenant-owned webhook configuration
type WebhookSubscription struct {
	ID                  uuid.UUID          `json:"id" db:"id"`
	OrgID               uuid.UUID          `json:"org_id" db:"org_id"`
	URL                 string             `json:"url" db:"url"`
	Description         string             `json:"description,omitempty" db:"description"`
	EventTypes          []string           `json:"event_types" db:"event_types"`
	Secret              string             `json:"-" db:"secret"`
	Status              SubscriptionStatus `json:"status" db:"status"`
	RetryPolicy         RetryPolicy        `json:"retry_policy"`
	ConsecutiveFailures int                `json:"consecutive_failures" db:"consecutive_failures"`
	LastSuccessAt       *time.Time         `json:"last_success_at,omitempty" db:"last_success_at"`
	LastFailureAt       *time.Time         `json:"last_failure_at,omitempty" db:"last_failure_at"`
	CreatedAt           time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the WebhookSubscription model
func (WebhookSubscription) TableName() string {
	return "webhook_subscriptions"
}

// WildcardEvent subscribes to every event type
const WildcardEvent = "*"

// Matches reports whether the subscription listens to eventType
func (s *WebhookSubscription) Matches(eventType string) bool {
	for _, t := range s.EventTypes {
		if t == WildcardEvent || t == eventType {
			return true
		}
	}
	return false
}

// DeliveryStatus is the state of one webhook delivery
type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliveryRetrying DeliveryStatus = "retrying"
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryDLQ      DeliveryStatus = "dlq"
	DeliveryFailed   DeliveryStatus = "failed"
)

// Valid reports whether s is a known delivery status
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryPending, DeliveryRetrying, DeliverySuccess, DeliveryDLQ, DeliveryFailed:
		return true
	}
	return false
}

// Terminal reports whether no further attempts will be made
func (s DeliveryStatus) Terminal() bool {
	return s == DeliverySuccess || s == DeliveryDLQ || s == DeliveryFailed
}

// TestEventType is the synthetic event used for connectivity checks
const TestEventType = "webhook.test"

// WebhookPayload is the JSON body POSTed to subscribers
type WebhookPayload struct {
	Event     string          `json:"event"`
	Test      bool            `json:"test,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// WebhookDelivery is one delivery of an event to a subscription
type WebhookDelivery struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	OrgID          uuid.UUID       `json:"org_id" db:"org_id"`
	SubscriptionID uuid.UUID       `json:"subscription_id" db:"subscription_id"`
	EventType      string          `json:"event_type" db:"event_type"`
	Payload        json.RawMessage `json:"payload" db:"payload"`
	Status         DeliveryStatus  `json:"status" db:"status"`
	AttemptNumber  int             `json:"attempt_number" db:"attempt_number"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty" db:"next_retry_at"`
	ResponseStatus *int            `json:"response_status,omitempty" db:"response_status"`
	ResponseBody   string          `json:"response_body,omitempty" db:"response_body"`
	ErrorMessage   string          `json:"error_message,omitempty" db:"error_message"`
	DurationMs     *int            `json:"duration_ms,omitempty" db:"duration_ms"`
	ReplayedFrom   *uuid.UUID      `json:"replayed_from,omitempty" db:"replayed_from"`
	LastAttemptAt  *time.Time      `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the WebhookDelivery model
func (WebhookDelivery) TableName() string {
	return "webhook_deliveries"
}

// NewWebhookDelivery creates a pending delivery on its first attempt
func NewWebhookDelivery(orgID, subscriptionID uuid.UUID, eventType string, payload json.RawMessage) *WebhookDelivery {
	now := time.Now().UTC()
	return &WebhookDelivery{
		ID:             uuid.New(),
		OrgID:          orgID,
		SubscriptionID: subscriptionID,
		EventType:      eventType,
		Payload:        payload,
		Status:         DeliveryPending,
		AttemptNumber:  1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// DeliveryFilter selects deliveries within a tenant
type DeliveryFilter struct {
	SubscriptionID *uuid.UUID
	Status         *DeliveryStatus
	EventType      string
}

// OutboxMessage is a queued dispatch of one delivery attempt
type OutboxMessage struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	OrgID         uuid.UUID  `json:"org_id" db:"org_id"`
	DeliveryID    uuid.UUID  `json:"delivery_id" db:"delivery_id"`
	AttemptNumber int        `json:"attempt_number" db:"attempt_number"`
	AvailableAt   time.Time  `json:"available_at" db:"available_at"`
	LockedUntil   *time.Time `json:"locked_until,omitempty" db:"locked_until"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// NewOutboxMessage queues an attempt of delivery d, available at the given time
func NewOutboxMessage(d *WebhookDelivery, availableAt time.Time) *OutboxMessage {
	return &OutboxMessage{
		ID:            uuid.New(),
		OrgID:         d.OrgID,
		DeliveryID:    d.ID,
		AttemptNumber: d.AttemptNumber,
		AvailableAt:   availableAt,
		CreatedAt:     time.Now().UTC(),
	}
}
