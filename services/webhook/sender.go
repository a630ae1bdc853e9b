package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/staffing-erp/models"
)

// Request is one outbound webhook POST
type Request struct {
	URL        string
	Secret     string
	DeliveryID uuid.UUID
	EventType  string
	Test       bool
	Data       json.RawMessage
}

// Sender performs webhook HTTP attempts
type Sender interface {
	Send(ctx context.Context, req Request) Outcome
}

// SenderConfig holds configuration for the HTTP sender
type SenderConfig struct {
	Timeout           time.Duration
	UserAgent         string
	ResponseBodyLimit int
}

// HTTPSender posts signed payloads with net/http
type HTTPSender struct {
	config     SenderConfig
	httpClient *http.Client
	now        func() time.Time
}

// NewHTTPSender creates a new HTTP sender
func NewHTTPSender(config SenderConfig) *HTTPSender {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "staffing-erp-webhooks/1.0"
	}
	if config.ResponseBodyLimit <= 0 {
		config.ResponseBodyLimit = 4096
	}

	return &HTTPSender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		now: time.Now,
	}
}

// Send posts the payload once and reports what happened. Transport failures
// are returned in Outcome.Err rather than as an error.
func (s *HTTPSender) Send(ctx context.Context, req Request) Outcome {
	startTime := time.Now()
	sentAt := s.now().UTC()

	body, err := json.Marshal(models.WebhookPayload{
		Event:     req.EventType,
		Test:      req.Test,
		Timestamp: sentAt,
		Data:      req.Data,
	})
	if err != nil {
		return Outcome{Err: fmt.Errorf("failed to marshal payload: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return Outcome{Err: fmt.Errorf("failed to create request: %w", err)}
	}

	timestamp := sentAt.Unix()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", s.config.UserAgent)
	httpReq.Header.Set("X-Webhook-Event", req.EventType)
	httpReq.Header.Set("X-Webhook-Delivery", req.DeliveryID.String())
	httpReq.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(timestamp, 10))
	httpReq.Header.Set("X-Webhook-Signature", Sign(req.Secret, timestamp, body))

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return Outcome{Err: fmt.Errorf("HTTP request failed: %w", err), Duration: time.Since(startTime)}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, int64(s.config.ResponseBodyLimit)))
	if err != nil {
		return Outcome{StatusCode: httpResp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err), Duration: time.Since(startTime)}
	}
	// Drain so the connection can be reused.
	_, _ = io.CopyN(io.Discard, httpResp.Body, 64<<10)

	return Outcome{
		StatusCode: httpResp.StatusCode,
		Body:       responseExcerpt(respBody),
		Duration:   time.Since(startTime),
	}
}

// responseExcerpt makes a truncated response body storable as text. A rune
// split by the read limit, other invalid UTF-8 and NUL bytes are dropped.
func responseExcerpt(b []byte) string {
	return strings.ReplaceAll(strings.ToValidUTF8(string(b), ""), "\x00", "")
}
