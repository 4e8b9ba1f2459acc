// Package webhook forwards finished analysis results to the configured
// downstream URL. Delivery is best-effort: a failed delivery is retried
// once, then recorded and the job still completes. The pipeline never
// fails a job because the receiver was down.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// maxResponseBody bounds how much of the receiver's reply is kept for
	// diagnostics.
	maxResponseBody = 4096

	// retryBackoff is the fixed pause before the single redelivery
	// attempt.
	retryBackoff = 2 * time.Second
	maxRetries   = 1
)

// Payload is the JSON document posted to the webhook receiver.
type Payload struct {
	Filename    string         `json:"filename"`
	Analysis    map[string]any `json:"analysis"`
	SunoRequest map[string]any `json:"suno_request,omitempty"`
	Transcript  string         `json:"transcript"`
	MediaURL    string         `json:"media_url,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// DeliveryError reports a non-2xx reply from the receiver.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("webhook delivery failed with status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("webhook delivery failed with status %d", e.StatusCode)
}

// IsRetryable reports whether redelivery could plausibly succeed. Client
// errors mean the payload or URL is wrong and will not improve on retry.
func (e *DeliveryError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// Outcome records how delivery went. Jobs complete with either value of
// Delivered; the outcome is logged and kept for the job's final record.
type Outcome struct {
	Delivered  bool
	StatusCode int
	Attempts   int
	Err        error
}

// Config holds the delivery client's configuration.
type Config struct {
	URL     string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client posts results to the webhook receiver.
type Client struct {
	cfg          Config
	httpClient   *http.Client
	logger       *slog.Logger
	retryBackoff time.Duration
}

// NewClient creates a webhook client.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		logger:       cfg.Logger.With("component", "webhook"),
		retryBackoff: retryBackoff,
	}
}

// Deliver posts the payload, retrying once when the failure looks
// transient. It always returns a usable Outcome; the job is complete
// after at most two attempts whatever the receiver did.
func (c *Client) Deliver(ctx context.Context, payload Payload) Outcome {
	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{Err: fmt.Errorf("encode payload: %w", err)}
	}

	var outcome Outcome
	attempts := 0

	op := func() error {
		attempts++
		status, respBody, err := c.post(ctx, body)
		if err != nil {
			outcome = Outcome{Attempts: attempts, Err: err}
			return err
		}
		if status >= 200 && status < 300 {
			outcome = Outcome{Delivered: true, StatusCode: status, Attempts: attempts}
			return nil
		}

		derr := &DeliveryError{StatusCode: status, Body: respBody}
		outcome = Outcome{StatusCode: status, Attempts: attempts, Err: derr}
		if !derr.IsRetryable() {
			return backoff.Permanent(derr)
		}
		return derr
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryBackoff), maxRetries),
		ctx,
	)
	// The final outcome already carries the error; Retry's return adds
	// nothing.
	_ = backoff.Retry(op, policy)

	if outcome.Delivered {
		c.logger.Info("webhook delivered",
			"status", outcome.StatusCode,
			"attempts", outcome.Attempts,
		)
	} else {
		c.logger.Warn("webhook delivery failed",
			"status", outcome.StatusCode,
			"attempts", outcome.Attempts,
			"error", outcome.Err,
		)
	}
	return outcome
}

func (c *Client) post(ctx context.Context, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	return resp.StatusCode, string(respBody), nil
}
