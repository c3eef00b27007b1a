package sink

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"signal-relay/internal/domain"
	"signal-relay/internal/observability"
)

// Default webhook configuration values.
const (
	DefaultWebhookTimeout    = 1500 * time.Millisecond
	DefaultWebhookMaxRetries = 2
	DefaultBaseDelay         = 500 * time.Millisecond
)

// Webhook request headers.
const (
	HeaderSignature  = "X-Signature"
	HeaderDeliveryID = "X-Delivery-Id"
)

// ErrRejected is returned when the receiver answers with a non-retryable 4xx.
var ErrRejected = errors.New("webhook rejected delivery")

// WebhookSink POSTs events as JSON, signed with HMAC-SHA256 when a secret is set.
type WebhookSink struct {
	url        string
	secret     []byte
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// WebhookOption configures WebhookSink.
type WebhookOption func(*WebhookSink)

// WithBaseDelay sets the backoff before the first retry (doubles per retry).
func WithBaseDelay(d time.Duration) WebhookOption {
	return func(w *WebhookSink) {
		w.baseDelay = d
	}
}

// WithHTTPClient sets a custom http.Client. Its Timeout is overridden.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(w *WebhookSink) {
		w.client = client
	}
}

// WithLogger sets the logger used for retry and give-up lines.
func WithLogger(logger *slog.Logger) WebhookOption {
	return func(w *WebhookSink) {
		w.logger = logger
	}
}

// NewWebhookSink creates a webhook sink. timeout applies per attempt;
// maxRetries is the number of additional attempts after the first.
func NewWebhookSink(url, secret string, timeout time.Duration, maxRetries int, opts ...WebhookOption) *WebhookSink {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	w := &WebhookSink{
		url:        url,
		client:     &http.Client{},
		maxRetries: maxRetries,
		baseDelay:  DefaultBaseDelay,
		logger:     slog.Default(),
	}
	if secret != "" {
		w.secret = []byte(secret)
	}
	for _, opt := range opts {
		opt(w)
	}
	w.client.Timeout = timeout
	return w
}

func (*WebhookSink) sealed() {}

// Name returns "webhook".
func (*WebhookSink) Name() string { return "webhook" }

// Sign returns the lowercase hex HMAC-SHA256 of body keyed by secret.
func Sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Deliver POSTs e, retrying transport errors, 429 and 5xx up to maxRetries
// times with exponential backoff. All attempts carry the same body,
// signature and delivery id.
func (w *WebhookSink) Deliver(ctx context.Context, e *domain.SignalEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set(HeaderDeliveryID, uuid.NewString())
	if w.secret != nil {
		header.Set(HeaderSignature, Sign(body, w.secret))
	}

	delay := w.baseDelay
	var lastErr error

	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			w.logger.Warn("webhook_retry",
				"attempt", attempt+1,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		retryable, err := w.post(ctx, body, header)
		if err == nil {
			return nil
		}
		if !retryable {
			return err
		}
		lastErr = err
	}

	w.logger.Warn("webhook_give_up",
		"attempts", w.maxRetries+1,
		"delivery_id", header.Get(HeaderDeliveryID),
		"error", lastErr,
	)
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// post performs one attempt and reports whether a failure is retryable.
func (w *WebhookSink) post(ctx context.Context, body []byte, header http.Header) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header = header.Clone()

	resp, err := w.client.Do(req)
	if err != nil {
		observability.RecordWebhookAttempt("transport")
		return true, fmt.Errorf("http request: %w", err)
	}
	// The response body is not interpreted; drain a bounded amount for reuse.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		observability.RecordWebhookAttempt("retryable")
		return true, fmt.Errorf("unexpected status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		observability.RecordWebhookAttempt("rejected")
		return false, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	observability.RecordWebhookAttempt("ok")
	return false, nil
}
