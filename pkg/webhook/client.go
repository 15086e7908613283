// Package webhook provides the outbound webhook delivery client: one HTTP
// call with a bounded retry policy, derived authorization headers and
// templated payloads.
package webhook

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/marketloop/funneld/pkg/template"
)

const (
	// MaxAttempts bounds delivery retries; attempts beyond the first happen
	// only on transient failure (5xx or network error).
	MaxAttempts = 3

	defaultTimeout = 30 * time.Second
	backoffStep    = 100 * time.Millisecond
)

// Config is the delivery configuration from an ACTION step.
type Config struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Payload   map[string]any    `json:"payload"`
	Headers   map[string]string `json:"headers"`
	APIKey    string            `json:"api_key"`
	BasicAuth string            `json:"basic_auth"` // "user:password"
}

// Result reports the outcome of one delivery, including how many attempts
// were actually made.
type Result struct {
	Success    bool
	StatusCode int
	Attempts   int
	Err        error
}

// Transient reports whether the failure may succeed on a later sweep.
// 4xx responses are permanent: the payload or auth is wrong and retrying
// cannot fix it.
func (r Result) Transient() bool {
	if r.Success {
		return false
	}

	return r.StatusCode == 0 || r.StatusCode >= 500
}

// Client performs webhook deliveries.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	// sleep is replaceable in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// NewClient creates a delivery client with the default request timeout.
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With("component", "webhook_client"),
		sleep:      time.Sleep,
	}
}

// Send delivers the configured webhook, rendering payload and header
// templates against the given context. A failed delivery is reported in the
// Result for the caller to classify, not as an error.
func (c *Client) Send(ctx context.Context, config Config, templateCtx map[string]any) Result {
	method := config.Method
	if method == "" {
		method = http.MethodPost
	}

	body, err := c.renderBody(config.Payload, templateCtx)
	if err != nil {
		return Result{Attempts: 0, Err: err}
	}

	headers := buildHeaders(config, templateCtx)

	result := Result{}

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		result.Attempts = attempt

		if attempt > 1 {
			c.logger.InfoContext(ctx, "Retrying webhook delivery", "url", config.URL, "attempt", attempt)
			c.sleep(backoffStep * time.Duration(attempt-1))
		}

		statusCode, err := c.attempt(ctx, method, config.URL, body, headers)
		if err != nil {
			result.Err = err
			result.StatusCode = 0

			continue
		}

		result.StatusCode = statusCode
		result.Err = nil

		if statusCode >= 500 {
			result.Err = fmt.Errorf("webhook target returned status %d", statusCode)

			continue
		}

		if statusCode >= 400 {
			// Permanent: do not retry on client errors.
			result.Err = fmt.Errorf("webhook target returned status %d", statusCode)

			return result
		}

		result.Success = true

		return result
	}

	return result
}

func (c *Client) attempt(ctx context.Context, method, url string, body []byte, headers map[string]string) (int, error) {
	var bodyReader io.Reader
	if len(body) > 0 && method != http.MethodGet {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("failed to create webhook request: %w", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook request failed: %w", err)
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Error("Failed to close response body", "error", closeErr)
		}
	}()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

func (c *Client) renderBody(payload map[string]any, templateCtx map[string]any) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	rendered := template.RenderValue(payload, templateCtx)

	body, err := json.Marshal(rendered)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	return body, nil
}

// buildHeaders applies the header construction policy: explicit headers pass
// through verbatim, but a derived Authorization header (api_key or
// basic_auth) takes precedence over an explicit one.
func buildHeaders(config Config, templateCtx map[string]any) map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
	}

	for key, value := range config.Headers {
		headers[key] = template.Render(value, templateCtx)
	}

	switch {
	case config.APIKey != "":
		headers["Authorization"] = "Bearer " + config.APIKey
	case config.BasicAuth != "":
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(config.BasicAuth))
	}

	return headers
}
