package errors

import (
	"net/http"
	"time"
)

// ErrorCode is a stable, machine-readable error discriminant
type ErrorCode string

const (
	// Request errors
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrInvalidJSON      ErrorCode = "INVALID_JSON"

	// Authentication errors
	ErrUnauthorized  ErrorCode = "UNAUTHORIZED"
	ErrTokenExpired  ErrorCode = "TOKEN_EXPIRED"
	ErrInvalidAPIKey ErrorCode = "INVALID_API_KEY"
	ErrAPIKeyExpired ErrorCode = "API_KEY_EXPIRED"
	ErrMissingAPIKey ErrorCode = "MISSING_API_KEY"

	// Authorization errors
	ErrForbidden         ErrorCode = "FORBIDDEN"
	ErrTierRequired      ErrorCode = "TIER_REQUIRED"
	ErrInsufficientScope ErrorCode = "INSUFFICIENT_PERMISSIONS"

	// Resource errors
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrAPIKeyNotFound ErrorCode = "API_KEY_NOT_FOUND"
	ErrUserNotFound   ErrorCode = "USER_NOT_FOUND"

	// Quota errors
	ErrAPIKeyLimitReached ErrorCode = "API_KEY_LIMIT_REACHED"
	ErrRateLimited        ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrTooManyFailures    ErrorCode = "TOO_MANY_FAILED_ATTEMPTS"

	// Server errors
	ErrInternalServer ErrorCode = "INTERNAL_ERROR"
	ErrDatabaseError  ErrorCode = "DATABASE_ERROR"
	ErrCacheError     ErrorCode = "CACHE_ERROR"
	ErrUnavailable    ErrorCode = "SERVICE_UNAVAILABLE"
)

// APIError represents a standardized API error
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    any       `json:"details,omitempty"`
	HTTPStatus int       `json:"-"`
	Timestamp  time.Time `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// WithDetails returns a copy of the error carrying details
func (e *APIError) WithDetails(details any) *APIError {
	c := *e
	c.Details = details
	c.Timestamp = time.Now().UTC()
	return &c
}

// WithMessage returns a copy of the error with a different message
func (e *APIError) WithMessage(message string) *APIError {
	c := *e
	c.Message = message
	c.Timestamp = time.Now().UTC()
	return &c
}

// ErrorBody is the "error" member of an error response
type ErrorBody struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   any       `json:"details,omitempty"`
	Timestamp string    `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
	Method    string    `json:"method,omitempty"`
}

// ErrorResponse represents the error response format
type ErrorResponse struct {
	Error         ErrorBody `json:"error"`
	RequestID     string    `json:"request_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// NewErrorResponse builds the response envelope for err
func NewErrorResponse(err *APIError, requestID, correlationID, path, method string) *ErrorResponse {
	ts := err.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if correlationID == "" {
		correlationID = requestID
	}
	return &ErrorResponse{
		Error: ErrorBody{
			Code:      err.Code,
			Message:   err.Message,
			Details:   err.Details,
			Timestamp: ts.Format(time.RFC3339),
			Path:      path,
			Method:    method,
		},
		RequestID:     requestID,
		CorrelationID: correlationID,
	}
}

// Common errors
var (
	ErrUnauthorizedError = &APIError{
		Code:       ErrUnauthorized,
		Message:    "Authentication required",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrTokenExpiredError = &APIError{
		Code:       ErrTokenExpired,
		Message:    "Token has expired",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrInvalidAPIKeyError = &APIError{
		Code:       ErrInvalidAPIKey,
		Message:    "Invalid API key",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrAPIKeyExpiredError = &APIError{
		Code:       ErrAPIKeyExpired,
		Message:    "API key expired",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrMissingAPIKeyError = &APIError{
		Code:       ErrMissingAPIKey,
		Message:    "API key required",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrForbiddenError = &APIError{
		Code:       ErrForbidden,
		Message:    "Access denied",
		HTTPStatus: http.StatusForbidden,
	}

	ErrNotFoundError = &APIError{
		Code:       ErrNotFound,
		Message:    "Resource not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrAPIKeyNotFoundError = &APIError{
		Code:       ErrAPIKeyNotFound,
		Message:    "API key not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrUserNotFoundError = &APIError{
		Code:       ErrUserNotFound,
		Message:    "User not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrRateLimitedError = &APIError{
		Code:       ErrRateLimited,
		Message:    "Rate limit exceeded",
		HTTPStatus: http.StatusTooManyRequests,
	}

	ErrTooManyFailuresError = &APIError{
		Code:       ErrTooManyFailures,
		Message:    "Too many failed authentication attempts",
		HTTPStatus: http.StatusTooManyRequests,
	}

	ErrInternalServerError = &APIError{
		Code:       ErrInternalServer,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrUnavailableError = &APIError{
		Code:       ErrUnavailable,
		Message:    "Service temporarily unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)

// NewValidationError creates a validation error with details
func NewValidationError(details any) *APIError {
	return &APIError{
		Code:       ErrValidationFailed,
		Message:    "Validation failed",
		Details:    details,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:       ErrInvalidRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewTierRequiredError is returned when a privileged feature needs a higher tier
func NewTierRequiredError(message string, requiredTier string) *APIError {
	return &APIError{
		Code:       ErrTierRequired,
		Message:    message,
		Details:    map[string]string{"required_tier": requiredTier},
		HTTPStatus: http.StatusForbidden,
	}
}

// NewInsufficientPermissionsError names the missing resource/action grant
func NewInsufficientPermissionsError(resource, action string) *APIError {
	return &APIError{
		Code:       ErrInsufficientScope,
		Message:    "API key lacks " + resource + ":" + action + " permission",
		Details:    map[string]string{"resource": resource, "action": action},
		HTTPStatus: http.StatusForbidden,
	}
}

// NewKeyLimitError reports that the tier's active key quota is used up
func NewKeyLimitError(message string, tier string, limit int) *APIError {
	return &APIError{
		Code:       ErrAPIKeyLimitReached,
		Message:    message,
		Details:    map[string]any{"tier": tier, "limit": limit},
		HTTPStatus: http.StatusForbidden,
	}
}

// NewRateLimitError creates a rate limit error carrying the retry delay
func NewRateLimitError(retryAfterSeconds int64) *APIError {
	return &APIError{
		Code:       ErrRateLimited,
		Message:    "Rate limit exceeded",
		Details:    map[string]int64{"retry_after_seconds": retryAfterSeconds},
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// GetHTTPStatusFromCode maps an error code to its HTTP status
func GetHTTPStatusFromCode(code ErrorCode) int {
	switch code {
	case ErrInvalidRequest, ErrValidationFailed, ErrInvalidJSON:
		return http.StatusBadRequest
	case ErrUnauthorized, ErrTokenExpired, ErrInvalidAPIKey, ErrAPIKeyExpired, ErrMissingAPIKey:
		return http.StatusUnauthorized
	case ErrForbidden, ErrTierRequired, ErrInsufficientScope, ErrAPIKeyLimitReached:
		return http.StatusForbidden
	case ErrNotFound, ErrAPIKeyNotFound, ErrUserNotFound:
		return http.StatusNotFound
	case ErrRateLimited, ErrTooManyFailures:
		return http.StatusTooManyRequests
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable reports whether the client may retry the same request later
func IsRetryable(err *APIError) bool {
	switch err.Code {
	case ErrRateLimited, ErrTooManyFailures, ErrUnavailable:
		return true
	default:
		return false
	}
}

// IsClientError reports whether the error is a 4xx
func IsClientError(err *APIError) bool {
	return err.HTTPStatus >= 400 && err.HTTPStatus < 500
}

// IsServerError reports whether the error is a 5xx
func IsServerError(err *APIError) bool {
	return err.HTTPStatus >= 500 && err.HTTPStatus < 600
}
