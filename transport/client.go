package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single remote call.
const DefaultTimeout = 30 * time.Second

// callRequest is the wire shape of an outgoing remote call.
type callRequest struct {
	Channel string `json:"channel"`
	Args    []any  `json:"args"`
}

// Client issues remote calls over HTTP and classifies the responses.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client targeting baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call invokes the named channel with args and returns the classified
// outcome. Channel names are opaque to the client.
func (c *Client) Call(ctx context.Context, channel string, args ...any) (Result, error) {
	if args == nil {
		args = []any{}
	}
	payload, err := json.Marshal(callRequest{Channel: channel, Args: args})
	if err != nil {
		return Result{}, fmt.Errorf("encode call %q: %w", channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/call", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build call %q: %w", channel, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: call %q: %v", ErrTransportFailure, channel, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: read call %q response: %v", ErrTransportFailure, channel, err)
	}

	result, err := Classify(resp.StatusCode, body)
	if err != nil {
		c.logger.Debug("remote call failed", "channel", channel, "status", resp.StatusCode, "error", err)
		return Result{}, err
	}
	return result, nil
}
