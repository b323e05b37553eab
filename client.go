package ragsync

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	userAgent         = "ragsync/1.0"
	signatureHeader   = "X-Webhook-Signature"
	tenantHeader      = "X-Tenant-Id"
	environmentHeader = "X-Environment"

	maxConnectTimeout = 10 * time.Second
	maxResponseBody   = 1 << 20
)

// Response is the outcome of a webhook call. Non-2xx statuses are values,
// not errors; only network-level failures carry StatusCode 0.
type Response struct {
	Success    bool
	StatusCode int
	Body       map[string]any
	Err        string
	Duration   time.Duration
}

// Retryable reports whether the failure is transient: network errors,
// rate limiting, or server errors.
func (r Response) Retryable() bool {
	return r.StatusCode == 0 || r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500
}

// Permanent reports whether the failure should not be retried: client
// errors other than rate limiting.
func (r Response) Permanent() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500 && r.StatusCode != http.StatusTooManyRequests
}

// ErrorMessage renders the failure for logs and queue rows.
func (r Response) ErrorMessage() string {
	if r.Success {
		return ""
	}
	msg := r.Err
	if msg == "" {
		msg = "unknown error"
	}
	if r.StatusCode > 0 {
		return fmt.Sprintf("[HTTP %d] %s", r.StatusCode, msg)
	}

	return msg
}

// BatchItem is one entry of the batch envelope.
type BatchItem struct {
	Type    EntityType `json:"type"`
	ID      string     `json:"id"`
	Action  Action     `json:"action"`
	StoreID int        `json:"store_id"`
	Data    Document   `json:"data"`
}

type batchEnvelope struct {
	Type      string      `json:"type"`
	BatchID   string      `json:"batch_id"`
	Timestamp string      `json:"timestamp"`
	Items     []BatchItem `json:"items"`
}

type entityEnvelope struct {
	Type      EntityType `json:"type"`
	Action    Action     `json:"action"`
	Timestamp string     `json:"timestamp"`
	Data      Document   `json:"data"`
}

type testEnvelope struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	TestID    string `json:"test_id"`
}

// Sender is the outbound transport consumed by the Dispatcher.
type Sender interface {
	// SendBatch posts a batch envelope to the configured endpoint.
	SendBatch(ctx context.Context, items []BatchItem) Response
	// SendEntity posts a single-entity envelope to the configured endpoint.
	SendEntity(ctx context.Context, entityType EntityType, action Action, data Document) Response
}

// WebhookClient signs and posts JSON envelopes to the configured endpoint.
type WebhookClient struct {
	cfg    ConfigProvider
	clock  Clock
	logger Logger
}

var _ Sender = (*WebhookClient)(nil)

// NewWebhookClient constructs a client over the given configuration.
func NewWebhookClient(cfg ConfigProvider, clock Clock, logger Logger) *WebhookClient {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = NopLogger{}
	}

	return &WebhookClient{cfg: cfg, clock: clock, logger: logger}
}

// SendBatch implements Sender.
func (c *WebhookClient) SendBatch(ctx context.Context, items []BatchItem) Response {
	payload := batchEnvelope{
		Type:      "batch",
		BatchID:   uuid.NewString(),
		Timestamp: c.timestamp(),
		Items:     items,
	}
	cfg := c.cfg.Config(0)

	return c.post(ctx, cfg.WebhookURL, cfg.APISecret, cfg, payload)
}

// SendEntity implements Sender.
func (c *WebhookClient) SendEntity(ctx context.Context, entityType EntityType, action Action, data Document) Response {
	payload := entityEnvelope{
		Type:      entityType,
		Action:    action,
		Timestamp: c.timestamp(),
		Data:      data,
	}
	cfg := c.cfg.Config(0)

	return c.post(ctx, cfg.WebhookURL, cfg.APISecret, cfg, payload)
}

// TestConnection posts a connection_test envelope using the provided
// credentials, so the endpoint can be verified before saving configuration.
func (c *WebhookClient) TestConnection(ctx context.Context, url, secret string) Response {
	payload := testEnvelope{
		Type:      "connection_test",
		Timestamp: c.timestamp(),
		TestID:    uuid.NewString(),
	}

	return c.post(ctx, url, secret, c.cfg.Config(0), payload)
}

func (c *WebhookClient) post(ctx context.Context, url, secret string, cfg Config, payload any) Response {
	if url == "" || secret == "" {
		return Response{Err: ErrNotConfigured.Error()}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{Err: fmt.Sprintf("encode payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{Err: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tenantHeader, cfg.TenantID)
	req.Header.Set(environmentHeader, cfg.Environment)
	req.Header.Set(signatureHeader, "sha256="+sign(body, secret))

	if cfg.Debug {
		c.logger.Debug("sending webhook", "url", url, "payload_size", len(body))
	}

	start := time.Now()
	resp, err := httpClient(cfg.Timeout).Do(req)
	duration := time.Since(start)
	if err != nil {
		c.logger.Error("webhook request failed", "err", err)

		return Response{Err: err.Error(), Duration: duration}
	}
	defer resp.Body.Close()

	result := Response{
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Body:       parseBody(resp.Body),
		Duration:   duration,
	}
	if !result.Success {
		result.Err = http.StatusText(resp.StatusCode)
	}
	if cfg.Debug {
		c.logger.Debug("webhook response",
			"status_code", result.StatusCode,
			"duration_ms", duration.Milliseconds(),
			"success", result.Success)
	}

	return result
}

func (c *WebhookClient) timestamp() string {
	return c.clock.Now().UTC().Format(time.RFC3339)
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)

	return hex.EncodeToString(mac.Sum(nil))
}

func httpClient(timeout time.Duration) *http.Client {
	connectTimeout := timeout
	if connectTimeout > maxConnectTimeout {
		connectTimeout = maxConnectTimeout
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
			TLSHandshakeTimeout: connectTimeout,
		},
	}
}

func parseBody(r io.Reader) map[string]any {
	raw, err := io.ReadAll(io.LimitReader(r, maxResponseBody))
	if err != nil || len(raw) == 0 {
		return nil
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return map[string]any{"raw": string(raw)}
	}

	return body
}
