package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxResponseSize limits the terminal response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// StatusTokenInvalid is the reserved protocol status a terminal returns when
// the supplied authorization token is no longer valid. It is handled as a
// recoverable condition, never as a transport failure.
const StatusTokenInvalid = 419

// ServiceError is a non-2xx response from a terminal. Callers classify it by
// status code, never by response text.
type ServiceError struct {
	StatusCode int
	Action     string
	URL        string
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("terminal %s failed (status %d): %s", e.Action, e.StatusCode, e.Body)
}

// TokenInvalid reports whether the terminal signaled token invalidation.
func (e *ServiceError) TokenInvalid() bool {
	return e.StatusCode == StatusTokenInvalid
}

// IsTokenInvalid reports whether err carries the token-invalid status.
func IsTokenInvalid(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.TokenInvalid()
}

// Client posts activity actions to terminal endpoints.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// NewClient creates a terminal client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ActionURL builds the URL a given action posts to.
func ActionURL(endpoint, action string) string {
	return strings.TrimRight(endpoint, "/") + "/actions/" + action
}

// Configure posts the configure action and returns the terminal's updated
// activity.
func (c *Client) Configure(ctx context.Context, endpoint string, env RequestEnvelope) (*ActivityDTO, error) {
	var dto ActivityDTO
	if err := c.post(ctx, endpoint, ActionConfigure, env, &dto); err != nil {
		return nil, err
	}
	return &dto, nil
}

// Activate posts the activate action.
func (c *Client) Activate(ctx context.Context, endpoint string, env RequestEnvelope) (*ActivityDTO, error) {
	var dto ActivityDTO
	if err := c.post(ctx, endpoint, ActionActivate, env, &dto); err != nil {
		return nil, err
	}
	return &dto, nil
}

// Deactivate posts the deactivate action.
func (c *Client) Deactivate(ctx context.Context, endpoint string, env RequestEnvelope) (*ActivityDTO, error) {
	var dto ActivityDTO
	if err := c.post(ctx, endpoint, ActionDeactivate, env, &dto); err != nil {
		return nil, err
	}
	return &dto, nil
}

// Documentation posts the documentation action and returns the raw response
// for the caller to render.
func (c *Client) Documentation(ctx context.Context, endpoint string, env RequestEnvelope) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.post(ctx, endpoint, ActionDocumentation, env, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Run posts an execution action. action must be ActionRun or
// ActionExecuteChildActivities; the envelope must carry a real container id.
func (c *Client) Run(ctx context.Context, endpoint, action string, env RequestEnvelope) (*PayloadDTO, error) {
	if action != ActionRun && action != ActionExecuteChildActivities {
		return nil, fmt.Errorf("invalid run action: %s", action)
	}

	var payload PayloadDTO
	if err := c.post(ctx, endpoint, action, env, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// post executes one request/response RPC exchange with a terminal.
func (c *Client) post(ctx context.Context, endpoint, action string, env RequestEnvelope, out any) error {
	if endpoint == "" {
		return fmt.Errorf("terminal %s: endpoint is required", action)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", action, err)
	}

	url := ActionURL(endpoint, action)
	c.logger.Debug("Calling terminal",
		"action", action,
		"url", url,
		"activity_id", env.Activity.ID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", action, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("terminal %s request failed: %w", action, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read %s response: %w", action, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		bodyStr := string(respBody)
		if len(bodyStr) > 200 {
			bodyStr = bodyStr[:200] + "..."
		}
		return &ServiceError{
			StatusCode: httpResp.StatusCode,
			Action:     action,
			URL:        url,
			Body:       bodyStr,
		}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", action, err)
	}
	return nil
}
