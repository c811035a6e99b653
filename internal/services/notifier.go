package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// HTTPNotifier delivers notifications to the dispatcher service over HTTP.
// Server-side failures are retried with a constant backoff; client errors are
// not, since resending the same payload cannot fix them.
type HTTPNotifier struct {
	url        string
	client     *http.Client
	maxRetries uint64
	interval   time.Duration
}

// NewHTTPNotifier creates a notifier posting to the given base URL.
func NewHTTPNotifier(url string, maxRetries int, interval time.Duration) *HTTPNotifier {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &HTTPNotifier{
		url:        url,
		client:     &http.Client{Timeout: 15 * time.Second},
		maxRetries: uint64(maxRetries),
		interval:   interval,
	}
}

// Send posts the notification. The Idempotency-Key header carries the
// execution+step dedupe key so the dispatcher can drop re-deliveries.
func (c *HTTPNotifier) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewConstant(c.interval))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/notifications", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", n.DedupeKey())

		resp, err := c.client.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("failed to reach dispatcher: %w", err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("dispatcher returned status %d", resp.StatusCode))
		default:
			return fmt.Errorf("dispatcher rejected notification: status %d", resp.StatusCode)
		}
	})
}
