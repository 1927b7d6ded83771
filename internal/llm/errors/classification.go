package errors

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ClassifyLLMError maps err to a WorkflowError. Context errors are checked
// first, then typed errors, then sentinels, then message patterns.
func ClassifyLLMError(err error) *WorkflowError {
	if err == nil {
		return nil
	}
	// Context errors win over the net.Error wrappers the HTTP client adds.
	switch {
	case errors.Is(err, context.Canceled):
		return &WorkflowError{Type: ErrorTypeCanceled, Message: err.Error(), Code: "CANCELED", Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &WorkflowError{Type: ErrorTypeTimeout, Message: err.Error(), Code: "TIMEOUT", Retryable: true, Cause: err}
	}
	if wf := classifyTyped(err); wf != nil {
		return wf
	}
	if wf := classifySentinel(err); wf != nil {
		return wf
	}
	return classifyByMessage(err)
}

func classifyTyped(err error) *WorkflowError {
	var wf *WorkflowError
	if errors.As(err, &wf) {
		return wf
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return &WorkflowError{
			Type:      providerErr.Type,
			Message:   providerErr.Message,
			Code:      providerErr.Code,
			Retryable: providerErr.IsRetryable(),
			Details: map[string]any{
				"provider":    providerErr.Provider,
				"status_code": providerErr.StatusCode,
			},
			Cause: err,
		}
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return &WorkflowError{
			Type:      ErrorTypeRateLimit,
			Message:   rateLimitErr.Error(),
			Code:      "RATE_LIMIT",
			Retryable: true,
			Details: map[string]any{
				"scope":       rateLimitErr.Scope,
				"retry_after": rateLimitErr.RetryAfter,
			},
			Cause: err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &WorkflowError{Type: ErrorTypeTimeout, Message: err.Error(), Code: "TIMEOUT", Retryable: true, Cause: err}
		}
		return &WorkflowError{Type: ErrorTypeNetwork, Message: err.Error(), Code: "NETWORK_ERROR", Retryable: true, Cause: err}
	}
	return nil
}

func classifySentinel(err error) *WorkflowError {
	switch {
	case errors.Is(err, ErrRateLimitExceeded):
		return &WorkflowError{Type: ErrorTypeRateLimit, Message: err.Error(), Code: "RATE_LIMIT", Retryable: true, Cause: err}
	case errors.Is(err, ErrProviderUnavailable):
		return &WorkflowError{Type: ErrorTypeProvider, Message: err.Error(), Code: "PROVIDER_UNAVAILABLE", Retryable: true, Cause: err}
	case errors.Is(err, ErrInvalidResponse), errors.Is(err, ErrEmptyCompletion):
		return &WorkflowError{Type: ErrorTypeProvider, Message: err.Error(), Code: "INVALID_RESPONSE", Retryable: true, Cause: err}
	}
	return nil
}

func classifyByMessage(err error) *WorkflowError {
	msg := strings.ToLower(err.Error())
	details := map[string]any{"original_error": err.Error()}

	wf := &WorkflowError{Details: details, Cause: err}
	switch {
	case strings.Contains(msg, "rate limit"):
		wf.Type, wf.Message, wf.Code, wf.Retryable = ErrorTypeRateLimit, "Rate limit exceeded", "RATE_LIMIT", true
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		wf.Type, wf.Message, wf.Code, wf.Retryable = ErrorTypeTimeout, "Request timeout", "TIMEOUT", true
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "authentication"):
		wf.Type, wf.Message, wf.Code = ErrorTypeAuth, "Authentication failed", "AUTH_FAILED"
	case strings.Contains(msg, "forbidden"), strings.Contains(msg, "permission"):
		wf.Type, wf.Message, wf.Code = ErrorTypePermission, "Permission denied", "PERMISSION_DENIED"
	case strings.Contains(msg, "quota"), strings.Contains(msg, "insufficient credits"):
		wf.Type, wf.Message, wf.Code = ErrorTypeQuota, "Quota exceeded", "QUOTA_EXCEEDED"
	case strings.Contains(msg, "network"), strings.Contains(msg, "connection"):
		wf.Type, wf.Message, wf.Code, wf.Retryable = ErrorTypeNetwork, "Network error", "NETWORK_ERROR", true
	default:
		wf.Type, wf.Message, wf.Code = ErrorTypeUnknown, "Unknown error", "UNKNOWN"
	}
	return wf
}
