// Package upstream implements the Upstream Client (spec §4.4): executes
// one chat request against one endpoint and returns a typed outcome.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tributary-ai/agent-gateway/internal/gwerrors"
	"github.com/tributary-ai/agent-gateway/internal/pool"
	"github.com/tributary-ai/agent-gateway/internal/types"
)

const (
	// DefaultTimeout is the overall wall-clock deadline covering connect,
	// send, receive-head, and receive-body stages (spec §4.4).
	DefaultTimeout = 30 * time.Second
	// MaxResponseBytes caps the response body; larger is invalid-response.
	MaxResponseBytes = 1 << 20 // 1 MiB
)

type wireRequest struct {
	Model       string          `json:"model"`
	Messages    []types.Message `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
}

// Client executes a single-endpoint chat request over raw HTTP, per the
// wire contract spec §4.4 describes directly (no vendor SDK: the Model
// Pool carries the dialect as data, not a compiled-in client choice).
type Client struct {
	httpClient *http.Client
	apiKey     string
}

func New(apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{},
		apiKey:     apiKey,
	}
}

// Call sends messages to endpoint and returns a parsed ChatResponse or a
// classified *gwerrors.Error.
func (c *Client) Call(ctx context.Context, endpoint pool.Endpoint, messages []types.Message, temperature *float64, maxTokens *int) (*types.ChatResponse, error) {
	timeout := DefaultTimeout
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body := wireRequest{
		Model:       endpoint.ID,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.InvalidResponse, "encoding request body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Network, "building request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, gwerrors.New(gwerrors.Timeout, "deadline exceeded during connect/send")
		}
		return nil, gwerrors.Wrap(gwerrors.Network, "sending request", err)
	}
	defer resp.Body.Close()

	if kind, ok := classifyStatus(resp.StatusCode); ok {
		return nil, gwerrors.New(kind, fmt.Sprintf("upstream returned HTTP %d", resp.StatusCode))
	}

	limited := io.LimitReader(resp.Body, MaxResponseBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, gwerrors.New(gwerrors.Timeout, "deadline exceeded during receive-body")
		}
		return nil, gwerrors.Wrap(gwerrors.Network, "reading response body", err)
	}
	if len(raw) > MaxResponseBytes {
		return nil, gwerrors.New(gwerrors.InvalidResponse, "response body exceeds 1 MiB")
	}

	var out types.ChatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, gwerrors.Wrap(gwerrors.InvalidResponse, "parsing response body", err)
	}
	return &out, nil
}

// classifyStatus maps an HTTP status code to a gwerrors.Kind per spec
// §4.4; ok is false for 200, which is not an error.
func classifyStatus(status int) (gwerrors.Kind, bool) {
	switch {
	case status == http.StatusOK:
		return "", false
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return gwerrors.Auth, true
	case status == http.StatusTooManyRequests:
		return gwerrors.RateLimit, true
	case status >= 500:
		return gwerrors.Network, true
	default:
		return gwerrors.InvalidResponse, true
	}
}
