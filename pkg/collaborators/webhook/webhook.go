// Package webhook calls external HTTP endpoints for callWebhook actions.
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

	"github.com/dukex/rentflow/pkg/executor"
	"github.com/dukex/rentflow/pkg/log"
)

const (
	DefaultTimeout = 30 * time.Second
	userAgent      = "rentflow-webhook/1.0"
)

// Caller posts JSON payloads. Network failures are transient; HTTP status codes
// are returned as-is and classified by the executor.
type Caller struct {
	client *http.Client
	logger *slog.Logger
}

type Option func(*Caller)

func WithClient(client *http.Client) Option {
	return func(c *Caller) {
		c.client = client
	}
}

func New(logger *slog.Logger, opts ...Option) *Caller {
	caller := &Caller{
		client: &http.Client{Timeout: DefaultTimeout},
		logger: logger.With("module", "webhook_caller"),
	}

	for _, opt := range opts {
		opt(caller)
	}

	return caller
}

func (c *Caller) CallWebhook(ctx context.Context, url string, payload map[string]any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, executor.Permanent(fmt.Errorf("failed to encode webhook payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, executor.Permanent(fmt.Errorf("failed to create webhook request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, executor.Transient(fmt.Errorf("webhook request to %s failed: %w", url, err))
	}

	logger := log.FromContext(ctx, c.logger)

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)

		if err := resp.Body.Close(); err != nil {
			logger.WarnContext(ctx, "Failed to close webhook response body", "error", err)
		}
	}()

	logger.DebugContext(ctx, "Webhook called", "url", url, "status_code", resp.StatusCode)

	return resp.StatusCode, nil
}

var _ executor.WebhookCaller = (*Caller)(nil)
