// Package gwerrors defines the typed error taxonomy shared by the router,
// upstream client, orchestrator, and channel pipelines.
package gwerrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so the router and orchestrator can decide
// whether to retry, cool an endpoint down, or surface the error.
type Kind string

const (
	Network             Kind = "network"
	Timeout             Kind = "timeout"
	Auth                Kind = "auth"
	RateLimit           Kind = "rate_limit"
	InvalidResponse     Kind = "invalid_response"
	NoAvailableModels   Kind = "no_available_models"
	MediaTooLarge       Kind = "media_too_large"
	MaxRetriesExceeded  Kind = "max_retries_exceeded"
	Duplicate           Kind = "duplicate"
	AccessDenied        Kind = "access_denied"
)

// CooldownSeconds is the error-kind-dependent health-tracker cooldown
// window from spec §4.2.
func (k Kind) CooldownSeconds() int {
	switch k {
	case RateLimit:
		return 600
	case InvalidResponse:
		return 30
	case Timeout:
		return 120
	case Auth:
		return 300
	case Network:
		return 60
	default:
		return 30
	}
}

// Error wraps an underlying cause with a Kind so callers can classify
// failures with errors.As without parsing messages.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error; otherwise it returns Network as the conservative default, since
// an unclassified failure reaching this far is most often a transport
// problem rather than a semantic one.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return Network
}
