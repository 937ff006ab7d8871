// Package types holds the wire-level data shapes shared across the
// gateway: the OpenAI-compatible chat types and the messaging-channel
// types from spec §3.
package types

import "time"

// Message is one entry in a ChatRequest's conversation, OpenAI-compatible.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolCallFunc `json:"function"`
}

type ToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters,omitempty"`
}

// ChatRequest is the inbound chat-completion request body (spec §3).
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Tools       []Tool    `json:"tools,omitempty"`
	ToolChoice  interface{} `json:"tool_choice,omitempty"`
}

// Choice is one completion alternative in a ChatResponse.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the OpenAI-compatible chat-completion response (spec §3).
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// ErrorResponse is the OpenAI error body shape (spec §7).
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ReplyContext is the quoted/reply-to context on an InboundMessage.
type ReplyContext struct {
	OriginalMessageID string  `json:"original_message_id"`
	QuotedBody        *string `json:"quoted_body,omitempty"`
}

// InboundMessage is one channel-side event (spec §3).
type InboundMessage struct {
	MessageID    string        `json:"message_id"`
	ChatID       string        `json:"chat_id"`
	ChatType     string        `json:"chat_type"` // "direct" | "group"
	Sender       string        `json:"sender"`    // canonical form
	DisplayName  string        `json:"display_name,omitempty"`
	Body         string        `json:"body"`
	MediaType    string        `json:"media_type,omitempty"`
	GeoLat       *float64      `json:"geo_lat,omitempty"`
	GeoLon       *float64      `json:"geo_lon,omitempty"`
	Mentioned    []string      `json:"mentioned,omitempty"`
	Reply        *ReplyContext `json:"reply,omitempty"`
	ServerTimeMS int64         `json:"server_time_ms"`
}

// ChannelConfig is the per-channel access/coalescing configuration (spec §3).
type ChannelConfig struct {
	DMPolicy            string   `json:"dm_policy"`    // disabled|allowlist|pairing|open
	GroupPolicy         string   `json:"group_policy"` // disabled|allowlist|open
	Allowlist           []string `json:"allowlist"`
	GroupAllowlist      []string `json:"group_allowlist"`
	GroupRequireMention bool     `json:"group_require_mention"`
	MediaMaxMB          int      `json:"media_max_mb"`
	DebounceMS          int      `json:"debounce_ms"`
	ReadReceipts        bool     `json:"read_receipts"`
	ActivationCommands  []string `json:"activation_commands"`
}

// Session is one entry in the persisted sessions store (spec §6).
type Session struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
	User          string    `json:"user"`
	Channel       string    `json:"channel"`
	MessageCount  int       `json:"message_count"`
	Status        string    `json:"status"` // active|idle|terminated
}
