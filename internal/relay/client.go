// Package relay posts inbound content to the automation backend and routes
// any reply back to the sender.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"pdfrelay/internal/domain"
	"pdfrelay/internal/metrics"
)

// PlaceholderURL is the unconfigured endpoint; posting to it is a dry run.
const PlaceholderURL = "https://your-n8n-webhook-url.com"

const (
	DefaultTimeout  = 30 * time.Second
	maxResponseBody = 1 << 20
)

// RelayError reports a failed delivery to the backend.
type RelayError struct {
	StatusCode int // 0 for network errors and timeouts
	Err        error
}

func (e *RelayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("relay: HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("relay: %v", e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }

// Config configures a relay Client.
type Config struct {
	Endpoint string
	Timeout  time.Duration
	Sender   domain.Sender // delivers backend replies
	Client   *http.Client  // optional; built from Timeout when nil
	Logger   *slog.Logger
}

// Client makes at most one request per payload; it never retries.
type Client struct {
	endpoint string
	sender   domain.Sender
	http     *http.Client
	logger   *slog.Logger
}

// New returns a Client. An empty or placeholder Endpoint puts it in dry-run
// mode.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		endpoint: cfg.Endpoint,
		sender:   cfg.Sender,
		http:     cfg.Client,
		logger:   cfg.Logger,
	}
}

// DryRun reports whether no real endpoint is configured.
func (c *Client) DryRun() bool {
	return c.endpoint == "" || c.endpoint == PlaceholderURL
}

type response struct {
	Reply string `json:"reply"`
}

// Send posts p. In dry-run mode the payload is only logged. A reply in the
// response body is delivered to p.From.
func (c *Client) Send(ctx context.Context, p domain.RelayPayload) error {
	if c.DryRun() {
		metrics.RelayDryRuns.Inc()
		c.logger.Warn("relay webhook not configured, payload recorded locally",
			"type", p.Type, "from", p.From, "file", p.FileName,
			"message_len", len(p.Message), "content_len", len(p.FileBuffer))
		return nil
	}

	body, err := json.Marshal(p)
	if err != nil {
		return &RelayError{Err: fmt.Errorf("marshal payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return &RelayError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	metrics.RelayRequests.Inc()
	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.RelayLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RelayFailures.Inc()
		return &RelayError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.RelayFailures.Inc()
		return &RelayError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", truncate(string(data), 200))}
	}
	if err != nil {
		metrics.RelayFailures.Inc()
		return &RelayError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Info("payload relayed", "type", p.Type, "status", resp.StatusCode)

	var out response
	if len(bytes.TrimSpace(data)) == 0 || json.Unmarshal(data, &out) != nil || out.Reply == "" {
		return nil
	}
	if c.sender == nil {
		c.logger.Warn("relay reply dropped: no sender", "from", p.From)
		return nil
	}
	if err := c.sender.Send(ctx, p.From, out.Reply); err != nil {
		return fmt.Errorf("deliver reply to %s: %w", p.From, err)
	}
	metrics.RepliesDelivered.Inc()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
