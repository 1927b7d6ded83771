package providers

import (
	"net/http"
	"strings"

	llmerrors "github.com/ahrav/go-appraise/internal/llm/errors"
)

// ServerErrorStatusThreshold is the first 5xx status.
const ServerErrorStatusThreshold = 500

// classifyErrorType derives an ErrorType from the provider's error code or
// type string, falling back to the HTTP status.
func classifyErrorType(statusCode int, errorCode string) llmerrors.ErrorType {
	lowerCode := strings.ToLower(errorCode)
	switch {
	case strings.Contains(lowerCode, "rate"), strings.Contains(lowerCode, "limit"):
		return llmerrors.ErrorTypeRateLimit
	case strings.Contains(lowerCode, "timeout"):
		return llmerrors.ErrorTypeTimeout
	case strings.Contains(lowerCode, "auth"), strings.Contains(lowerCode, "unauthorized"):
		return llmerrors.ErrorTypeAuth
	case strings.Contains(lowerCode, "permission"), strings.Contains(lowerCode, "forbidden"):
		return llmerrors.ErrorTypePermission
	case strings.Contains(lowerCode, "quota"), strings.Contains(lowerCode, "credit"):
		return llmerrors.ErrorTypeQuota
	case strings.Contains(lowerCode, "moderation"), strings.Contains(lowerCode, "content_filter"):
		return llmerrors.ErrorTypeContent
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return llmerrors.ErrorTypeRateLimit
	case http.StatusUnauthorized:
		return llmerrors.ErrorTypeAuth
	case http.StatusPaymentRequired:
		return llmerrors.ErrorTypeQuota
	case http.StatusForbidden:
		return llmerrors.ErrorTypePermission
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return llmerrors.ErrorTypeTimeout
	case http.StatusBadRequest:
		return llmerrors.ErrorTypeValidation
	default:
		if statusCode >= ServerErrorStatusThreshold {
			return llmerrors.ErrorTypeProvider
		}
		return llmerrors.ErrorTypeUnknown
	}
}
