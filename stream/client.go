package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/zwldarren/ai-hedge-fund-sub000/errors"
)

// DefaultRunPath is the remote endpoint that accepts a run trigger and
// responds with the framed event stream.
const DefaultRunPath = "/hedge-fund/run"

// AgentModel optionally pins one agent to a specific model.
type AgentModel struct {
	AgentID       string `json:"agent_id"`
	ModelName     string `json:"model_name,omitempty"`
	ModelProvider string `json:"model_provider,omitempty"`
}

// RunRequest is the outbound trigger request for one run.
type RunRequest struct {
	Tickers        []string     `json:"tickers"`
	SelectedAgents []string     `json:"selected_agents"`
	AgentModels    []AgentModel `json:"agent_models,omitempty"`
	StartDate      string       `json:"start_date,omitempty"`
	EndDate        string       `json:"end_date,omitempty"`
	InitialCash    float64      `json:"initial_cash,omitempty"`
}

// Validate checks the request carries enough to start a run.
func (r RunRequest) Validate() error {
	if len(r.Tickers) == 0 {
		return errors.WrapInvalid(nil, "stream", "Validate", "tickers cannot be empty")
	}
	if len(r.SelectedAgents) == 0 {
		return errors.WrapInvalid(nil, "stream", "Validate", "selected_agents cannot be empty")
	}
	return nil
}

// Client triggers runs against the remote job API and hands back the open
// event stream body. The caller owns the returned body and must close it.
type Client struct {
	baseURL    string
	runPath    string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client (mainly for tests)
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRunPath overrides the run trigger path
func WithRunPath(path string) ClientOption {
	return func(c *Client) { c.runPath = path }
}

// WithClientLogger sets the structured logger
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a run trigger client for the given API base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		runPath: DefaultRunPath,
		httpClient: &http.Client{
			// No overall timeout: the response body is a long-lived
			// stream. Cancellation comes from the request context.
			Timeout: 0,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OpenRun posts the trigger request and returns the open response body,
// which is the inbound framed event stream. Cancelling ctx aborts the
// request and unblocks any pending read on the body.
func (c *Client) OpenRun(ctx context.Context, req RunRequest) (io.ReadCloser, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.WrapFatal(err, "stream", "OpenRun", "marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.runPath, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.WrapInvalid(err, "stream", "OpenRun", "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.WrapTransient(err, "stream", "OpenRun", "post trigger request")
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		err := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, errors.WrapInvalid(err, "stream", "OpenRun", "trigger rejected")
		}
		return nil, errors.WrapTransient(err, "stream", "OpenRun", "trigger failed")
	}

	c.logger.Debug("Run stream opened",
		"tickers", len(req.Tickers),
		"agents", len(req.SelectedAgents),
		"handshake", time.Since(start))

	return resp.Body, nil
}
