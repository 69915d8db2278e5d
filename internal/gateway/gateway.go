// Package gateway is the client for the external AI completion service.
// The service answers POST /chat with a single reply for one user
// message and keeps its own per-thread context keyed by thread_id.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/prenatal-clinic/internal/apperr"
	"github.com/nugget/prenatal-clinic/internal/config"
	"github.com/nugget/prenatal-clinic/internal/httpkit"
)

// Default ceilings for the two calls.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultHealthTimeout = 5 * time.Second
)

// maxErrorBody bounds how much of a failed response is kept.
const maxErrorBody = 8 << 10

// Errors returned by Complete. Each carries the kind the API maps to a
// status code.
var (
	ErrUnavailable = apperr.New(apperr.GatewayUnavailable, "AI service temporarily unavailable")
	ErrTimeout     = apperr.New(apperr.GatewayTimeout, "AI service temporarily unavailable")
	ErrBadRequest  = apperr.New(apperr.GatewayBadRequest, "Invalid request format")
)

// Request is the body of POST /chat.
type Request struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
}

// Reply is the body the service returns.
type Reply struct {
	Response string `json:"response"`
	ThreadID string `json:"thread_id"`
}

// Client talks to one gateway base URL.
type Client struct {
	baseURL       string
	timeout       time.Duration
	healthTimeout time.Duration
	httpClient    *http.Client
	logger        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default httpkit client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeouts sets the chat and health ceilings. Non-positive values
// keep the defaults.
func WithTimeouts(chat, health time.Duration) Option {
	return func(c *Client) {
		if chat > 0 {
			c.timeout = chat
		}
		if health > 0 {
			c.healthTimeout = health
		}
	}
}

// New creates a client for baseURL (for example http://localhost:8001).
func New(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		timeout:       DefaultTimeout,
		healthTimeout: DefaultHealthTimeout,
		logger:        logger,
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		// Deadlines come from the per-call context.
		c.httpClient = httpkit.NewClient(httpkit.WithTimeout(0))
	}
	return c
}

// BaseURL returns the gateway address this client calls.
func (c *Client) BaseURL() string { return c.baseURL }

// Complete sends one user message and returns the reply. It makes a
// single attempt bounded by the chat timeout.
func (c *Client) Complete(ctx context.Context, text, threadID, userID string) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(Request{Message: text, ThreadID: threadID, UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Log(ctx, config.LevelTrace, "gateway request",
		"url", req.URL.String(), "thread_id", threadID, "body", string(body))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classify(err, start)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := httpkit.ReadErrorBody(resp.Body, maxErrorBody)
		c.logger.Warn("gateway returned error status",
			"status", resp.StatusCode, "thread_id", threadID, "duration", time.Since(start))
		if resp.StatusCode == http.StatusUnprocessableEntity {
			return nil, ErrBadRequest.WithDetails(errorDetails(msg)).
				WithCause(fmt.Errorf("gateway status %d", resp.StatusCode))
		}
		return nil, apperr.Wrap(apperr.Internal, "Internal server error",
			fmt.Errorf("gateway status %d: %s", resp.StatusCode, strings.TrimSpace(msg)))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classify(err, start)
	}
	var reply Reply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Internal server error",
			fmt.Errorf("decode gateway reply: %w", err))
	}

	c.logger.Log(ctx, config.LevelTrace, "gateway reply",
		"thread_id", reply.ThreadID, "body", string(raw))
	c.logger.Debug("gateway reply received",
		"thread_id", threadID, "reply_len", len(reply.Response), "duration", time.Since(start))

	return &reply, nil
}

// Ping checks that the service root answers with a 2xx status within
// the health timeout.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classify(err, time.Now())
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ErrUnavailable.WithCause(fmt.Errorf("gateway ping status %d", resp.StatusCode))
	}
	return nil
}

// classify maps a transport error to a gateway error kind.
func (c *Client) classify(err error, start time.Time) error {
	c.logger.Warn("gateway call failed", "error", err, "duration", time.Since(start))

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout.WithCause(err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrTimeout.WithCause(err)
	case httpkit.IsUnreachable(err):
		return ErrUnavailable.WithCause(err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("gateway call canceled: %w", err)
	default:
		return apperr.Wrap(apperr.Internal, "Internal server error", fmt.Errorf("gateway call: %w", err))
	}
}

// errorDetails returns the upstream body as JSON when it parses, or as
// the raw string otherwise.
func errorDetails(body string) any {
	var v any
	if err := json.Unmarshal([]byte(body), &v); err == nil {
		return v
	}
	return strings.TrimSpace(body)
}
