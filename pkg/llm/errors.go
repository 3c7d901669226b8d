// Package llm implements the OpenAI-compatible chat-completion client, error
// classification and the multi-provider fallback chain.
package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType classifies provider failures for retry and fallback decisions.
type ErrorType int8

const (
	// ErrorTypeRateLimit covers 429s, rate-limit body codes and exhausted
	// quota headers. Retried with the provider-suggested delay.
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient covers 5xx and transport-level failures. Retried
	// with exponential backoff.
	ErrorTypeTransient
	// ErrorTypeToolChoice is a 400 whose body names tool_choice; the caller
	// downgrades the tool_choice mode and retries the same turn.
	ErrorTypeToolChoice
	// ErrorTypeAuth covers 401/403. Never retried.
	ErrorTypeAuth
	// ErrorTypeBadRequest covers other 4xx. Never retried.
	ErrorTypeBadRequest
	// ErrorTypeProtocol covers well-formed HTTP but malformed completion
	// payloads. Retried once, then treated as a provider error.
	ErrorTypeProtocol
)

// String returns the classification name.
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeToolChoice:
		return "tool_choice"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadRequest:
		return "bad_request"
	case ErrorTypeProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure.
type Error struct {
	Type       ErrorType
	StatusCode int
	Message    string
	// RetryAfter is the provider-suggested wait before retrying, parsed from
	// Retry-After / X-RateLimit-Reset. Zero when the provider gave none.
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("llm %s error (status %d): %s", e.Type, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("llm %s error: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("llm %s error (status %d)", e.Type, e.StatusCode)
}

// Unwrap supports errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the same provider should be retried.
func (e *Error) Retryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeProtocol:
		return true
	default:
		return false
	}
}

// TypeOf returns the classification of err, or ErrorTypeTransient for
// unclassified (transport-level) errors.
func TypeOf(err error) ErrorType {
	var le *Error
	if errors.As(err, &le) {
		return le.Type
	}
	return ErrorTypeTransient
}

// IsRateLimit reports whether err is a rate-limit classification.
func IsRateLimit(err error) bool {
	return TypeOf(err) == ErrorTypeRateLimit
}

// IsToolChoiceRejection reports whether err indicates the provider rejected
// the tool_choice parameter.
func IsToolChoiceRejection(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.Type == ErrorTypeToolChoice
}
