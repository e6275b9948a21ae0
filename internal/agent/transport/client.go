package transport

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

	"github.com/cuongbtq/fieldclock/internal/clock"
)

const maxErrorBody = 64 << 10

// Config holds the api-service connection settings
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// APIError is a non-2xx answer from the api-service
type APIError struct {
	Status  int
	Code    clock.Code
	Reason  clock.Reason
	Message string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("api error %d %s/%s: %s", e.Status, e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

// NetworkError means the request may or may not have reached the server
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the event should stay queued and be sent again later
func IsRetryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code.Retryable() {
			return true
		}
		// A bare server fault carries no verdict on the event itself
		return apiErr.Code == clock.CodeInternal && apiErr.Reason == "" && apiErr.Status >= http.StatusInternalServerError
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Client sends clock events to the api-service over HTTP
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new api-service client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Send delivers one event. entryID is only used for operations addressed to an entry (dispute).
func (c *Client) Send(ctx context.Context, op clock.Operation, req clock.EventRequest, entryID string) (*clock.EventResponse, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("unknown operation %q", string(op))
	}
	if op == clock.OpDispute && entryID == "" {
		return nil, fmt.Errorf("dispute requires an entry id")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+op.Path(entryID), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("Event sent",
		slog.String("operation", string(op)),
		slog.String("client_id", req.ClientID),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out clock.EventResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			// The server committed but the body was lost; resending is answered from the idempotency record
			return nil, &NetworkError{Err: fmt.Errorf("failed to decode response: %w", err)}
		}
		return &out, nil
	}

	return nil, decodeError(resp)
}

func decodeError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body clock.ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Code != "" {
		apiErr.Code = body.Code
		apiErr.Reason = body.Reason
		apiErr.Message = body.Message
		return apiErr
	}

	apiErr.Code = clock.CodeFromStatus(resp.StatusCode)
	apiErr.Message = strings.TrimSpace(string(data))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
