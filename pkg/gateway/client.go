// Package gateway implements the LLM gateway collaborator: an HTTP client for
// the completion service, a per-stage timeout decorator and a dummy gateway
// for local runs.
package gateway

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

	"github.com/dukex/coursepipe/pkg/protocol"
)

// Error is a classified gateway failure.
type Error struct {
	Code       string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s (status %d): %s", e.Code, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("gateway %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) ErrorCode() string {
	return e.Code
}

// classifyStatus maps an HTTP status to a failure code.
func classifyStatus(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return protocol.CodeRateLimited
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return protocol.CodeGatewayTimeout
	case status >= http.StatusInternalServerError:
		return protocol.CodeGatewayUnavailable
	default:
		return protocol.CodeGatewayRejected
	}
}

type completionResponse struct {
	Content      string `json:"content"`
	Provider     string `json:"provider"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	LatencyMs    int64  `json:"latency_ms"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client calls POST {baseURL}/v1/completions.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.http = client
	}
}

func NewClient(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) Complete(ctx context.Context, request *protocol.Request) (*protocol.Completion, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, &Error{Code: protocol.CodeInternal, Message: "failed to encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Code: protocol.CodeInternal, Message: "failed to build request", Err: err}
	}

	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Code: protocol.CodeGatewayTimeout, Message: "completion timed out", Err: err}
		}

		return nil, &Error{Code: protocol.CodeGatewayUnavailable, Message: "gateway unreachable", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Code: protocol.CodeGatewayUnavailable, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		_ = json.Unmarshal(payload, &apiErr)

		message := apiErr.Error
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}

		c.logger.WarnContext(ctx, "gateway returned an error",
			"stage", request.Stage, "status", resp.StatusCode, "message", message)

		return nil, &Error{Code: classifyStatus(resp.StatusCode), StatusCode: resp.StatusCode, Message: message}
	}

	var completion completionResponse
	if err := json.Unmarshal(payload, &completion); err != nil {
		return nil, &Error{Code: protocol.CodeGatewayUnavailable, Message: "malformed gateway response", Err: err}
	}

	latency := time.Duration(completion.LatencyMs) * time.Millisecond
	if latency == 0 {
		latency = time.Since(started)
	}

	return &protocol.Completion{
		Content:      completion.Content,
		Provider:     completion.Provider,
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
		Latency:      latency,
	}, nil
}
