package security

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/tributary-ai/agent-gateway/internal/types"
)

// ValidationConfig bounds the shape of an incoming chat completion request
// (spec §4.4 body: {model, messages, temperature?, max_tokens?}).
type ValidationConfig struct {
	MaxRequestSize   int64
	MaxMessages      int
	MaxMessageLength int
}

// RequestValidator checks /v1/chat/completions request bodies before they
// reach the orchestrator.
type RequestValidator struct {
	config *ValidationConfig
	logger *logrus.Logger
}

// ValidationResult reports whether a request body passed validation.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

func NewRequestValidator(config *ValidationConfig, logger *logrus.Logger) (*RequestValidator, error) {
	if config.MaxRequestSize == 0 {
		config.MaxRequestSize = 10 * 1024 * 1024
	}
	if config.MaxMessages == 0 {
		config.MaxMessages = 500
	}
	if config.MaxMessageLength == 0 {
		config.MaxMessageLength = 200_000
	}
	return &RequestValidator{config: config, logger: logger}, nil
}

var validRoles = map[string]bool{"system": true, "user": true, "assistant": true, "tool": true}

// ValidateChatRequest checks a decoded chat completion body against spec
// §4.4's required shape and sane bounds on size and role values.
func (v *RequestValidator) ValidateChatRequest(req *types.ChatRequest) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if req.Model == "" {
		result.Valid = false
		result.Errors = append(result.Errors, "model is required")
	}
	if len(req.Messages) == 0 {
		result.Valid = false
		result.Errors = append(result.Errors, "messages must be non-empty")
	}
	if len(req.Messages) > v.config.MaxMessages {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("messages count %d exceeds maximum %d", len(req.Messages), v.config.MaxMessages))
	}
	for i, m := range req.Messages {
		if !validRoles[m.Role] {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("message %d has invalid role %q", i, m.Role))
		}
		if !utf8.ValidString(m.Content) {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("message %d content is not valid UTF-8", i))
		}
		if len(m.Content) > v.config.MaxMessageLength {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("message %d content exceeds maximum length %d", i, v.config.MaxMessageLength))
		}
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		result.Valid = false
		result.Errors = append(result.Errors, "temperature must be between 0 and 2")
	}
	if req.MaxTokens != nil && *req.MaxTokens < 0 {
		result.Valid = false
		result.Errors = append(result.Errors, "max_tokens must be non-negative")
	}

	if !result.Valid {
		v.logger.WithField("errors", result.Errors).Warn("chat request validation failed")
	}
	return result
}

// SanitizeInput strips null bytes and non-printable control characters
// from free-form text.
func (v *RequestValidator) SanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	var sanitized strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\n' || r == '\t' {
			sanitized.WriteRune(r)
		}
	}
	return sanitized.String()
}

// ValidationMiddleware decodes and validates the request body for
// /v1/chat/completions, rejecting malformed or oversized requests before
// they reach the handler.
func (v *RequestValidator) ValidationMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/v1/chat/completions" {
				next.ServeHTTP(w, r)
				return
			}

			if r.ContentLength > v.config.MaxRequestSize {
				writeValidationError(w, []string{fmt.Sprintf("request size %d exceeds maximum %d", r.ContentLength, v.config.MaxRequestSize)})
				return
			}

			raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, v.config.MaxRequestSize))
			if err != nil {
				writeValidationError(w, []string{"reading request body: " + err.Error()})
				return
			}
			// Restore the body so the handler can decode it again.
			r.Body = io.NopCloser(bytes.NewReader(raw))

			var req types.ChatRequest
			decoder := json.NewDecoder(bytes.NewReader(raw))
			if err := decoder.Decode(&req); err != nil {
				writeValidationError(w, []string{"invalid JSON body: " + err.Error()})
				return
			}

			result := v.ValidateChatRequest(&req)
			if !result.Valid {
				writeValidationError(w, result.Errors)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeValidationError(w http.ResponseWriter, errs []string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(types.ErrorResponse{
		Error: types.ErrorBody{
			Message: strings.Join(errs, "; "),
			Type:    "validation_error",
		},
	})
}
