// Package errors defines the typed failures surfaced by the network layer
// and classifies arbitrary errors into a small taxonomy with retry guidance.
//
// The consensus engine itself never retries; classification feeds logging,
// metrics labels and the retry decision at the Temporal activity boundary.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType categorizes network-layer failures.
type ErrorType string

const (
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeProvider   ErrorType = "provider_unavailable"
	ErrorTypeValidation ErrorType = "validation_failed"
	ErrorTypeContent    ErrorType = "content_filtered"
	ErrorTypeAuth       ErrorType = "authentication"
	ErrorTypePermission ErrorType = "permission_denied"
	ErrorTypeQuota      ErrorType = "quota_exceeded"
	ErrorTypeCanceled   ErrorType = "canceled"
	ErrorTypeUnknown    ErrorType = "unknown"
)

var (
	// ErrProviderUnavailable indicates the provider is down or unreachable.
	ErrProviderUnavailable = errors.New("provider service unavailable")

	// ErrRateLimitExceeded indicates a local or global rate limit rejected the call.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrCacheMiss indicates the completion was not cached.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidResponse indicates the provider returned a body that could not be decoded.
	ErrInvalidResponse = errors.New("invalid provider response")

	// ErrEmptyCompletion indicates the provider returned no choices.
	ErrEmptyCompletion = errors.New("provider returned no completion")
)

// ProviderError is a structured error response from a provider.
type ProviderError struct {
	Provider   string    `json:"provider"`
	StatusCode int       `json:"status_code"`
	Message    string    `json:"message"`
	Code       string    `json:"code"`
	Type       ErrorType `json:"type"`
	RetryAfter int       `json:"retry_after"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable reports whether the failure is transient.
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeProvider:
		return true
	default:
		return false
	}
}

// GetRetryAfter returns the provider's Retry-After hint.
func (e *ProviderError) GetRetryAfter() time.Duration {
	return time.Duration(e.RetryAfter) * time.Second
}

// RateLimitError reports a rejected call with retry timing.
type RateLimitError struct {
	Scope      string `json:"scope"` // "local" or "global"
	Key        string `json:"key"`
	RetryAfter int    `json:"retry_after"`
	Limit      int    `json:"limit"`
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limit exceeded for %s, retry after %d seconds", e.Scope, e.Key, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limit exceeded for %s", e.Scope, e.Key)
}

// Unwrap lets errors.Is match ErrRateLimitExceeded.
func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }

// GetRetryAfter returns the suggested wait before the next call.
func (e *RateLimitError) GetRetryAfter() time.Duration {
	return time.Duration(e.RetryAfter) * time.Second
}

// WorkflowError is the classified form of any network-layer error.
type WorkflowError struct {
	Type      ErrorType      `json:"type"`
	Message   string         `json:"message"`
	Code      string         `json:"code"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details"`
	Cause     error          `json:"-"`
}

func (e *WorkflowError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *WorkflowError) Unwrap() error { return e.Cause }
