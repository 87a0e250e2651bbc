package errors

import (
	"net/http"
	"testing"
	"time"

	"pgregory.net/rapid"
)

var clientErrorCodes = []ErrorCode{
	ErrInvalidRequest, ErrValidationFailed, ErrInvalidJSON,
	ErrUnauthorized, ErrTokenExpired, ErrInvalidAPIKey, ErrAPIKeyExpired, ErrMissingAPIKey,
	ErrForbidden, ErrTierRequired, ErrInsufficientScope,
	ErrNotFound, ErrAPIKeyNotFound, ErrUserNotFound,
	ErrAPIKeyLimitReached, ErrRateLimited, ErrTooManyFailures,
}

var serverErrorCodes = []ErrorCode{
	ErrInternalServer, ErrDatabaseError, ErrCacheError, ErrUnavailable,
}

// Every error response carries code, message, timestamp, request and correlation ids.
func TestProperty_ErrorResponse_StandardFormat(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		all := append(append([]ErrorCode{}, clientErrorCodes...), serverErrorCodes...)
		code := all[rapid.IntRange(0, len(all)-1).Draw(rt, "codeIdx")]
		message := rapid.StringMatching(`[a-zA-Z0-9 .,!?]{10,100}`).Draw(rt, "message")
		requestID := rapid.StringMatching(`[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}`).Draw(rt, "requestID")
		correlationID := rapid.StringMatching(`[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}`).Draw(rt, "correlationID")

		paths := []string{"/api/v1/keys", "/api/v1/analytics/export", "/api/v1/external/me"}
		methods := []string{"GET", "POST", "PATCH", "DELETE"}
		path := paths[rapid.IntRange(0, len(paths)-1).Draw(rt, "pathIdx")]
		method := methods[rapid.IntRange(0, len(methods)-1).Draw(rt, "methodIdx")]

		apiErr := &APIError{
			Code:       code,
			Message:    message,
			HTTPStatus: GetHTTPStatusFromCode(code),
		}

		response := NewErrorResponse(apiErr, requestID, correlationID, path, method)

		if response.Error.Code == "" {
			t.Fatal("error response must have an error code")
		}
		if response.Error.Message == "" {
			t.Fatal("error response must have a message")
		}
		if _, err := time.Parse(time.RFC3339, response.Error.Timestamp); err != nil {
			t.Fatalf("timestamp must be RFC3339: %v", err)
		}
		if response.RequestID != requestID {
			t.Fatalf("request_id should be %s, got %s", requestID, response.RequestID)
		}
		if response.CorrelationID != correlationID {
			t.Fatalf("correlation_id should be %s, got %s", correlationID, response.CorrelationID)
		}
		if response.Error.Path != path || response.Error.Method != method {
			t.Fatalf("path/method not carried through: %s %s", response.Error.Method, response.Error.Path)
		}
	})
}

func TestErrorResponse_CorrelationFallsBackToRequestID(t *testing.T) {
	resp := NewErrorResponse(ErrForbiddenError, "req-1", "", "/x", "GET")
	if resp.CorrelationID != "req-1" {
		t.Fatalf("expected correlation id to fall back to request id, got %q", resp.CorrelationID)
	}
}

func TestProperty_ClientCodesMapTo4xx(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		code := clientErrorCodes[rapid.IntRange(0, len(clientErrorCodes)-1).Draw(rt, "clientCodeIdx")]
		status := GetHTTPStatusFromCode(code)
		if status < 400 || status >= 500 {
			t.Fatalf("client error code %s should map to 4xx, got %d", code, status)
		}
	})
}

func TestProperty_ServerCodesMapTo5xx(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		code := serverErrorCodes[rapid.IntRange(0, len(serverErrorCodes)-1).Draw(rt, "serverCodeIdx")]
		status := GetHTTPStatusFromCode(code)
		if status < 500 || status >= 600 {
			t.Fatalf("server error code %s should map to 5xx, got %d", code, status)
		}
	})
}

func TestTierRequiredError_Shape(t *testing.T) {
	err := NewTierRequiredError("Analytics export requires a Pro plan", "pro")
	if err.HTTPStatus != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", err.HTTPStatus)
	}
	if err.Code != "TIER_REQUIRED" {
		t.Fatalf("expected TIER_REQUIRED, got %s", err.Code)
	}
}

func TestRetryableErrors(t *testing.T) {
	for _, err := range []*APIError{ErrRateLimitedError, ErrTooManyFailuresError, ErrUnavailableError} {
		if !IsRetryable(err) {
			t.Fatalf("%s should be retryable", err.Code)
		}
	}
	for _, err := range []*APIError{ErrInvalidAPIKeyError, ErrAPIKeyExpiredError, ErrForbiddenError, ErrInternalServerError} {
		if IsRetryable(err) {
			t.Fatalf("%s should not be retryable", err.Code)
		}
	}
}

func TestProperty_ClientServerClassification(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		status := rapid.IntRange(400, 599).Draw(rt, "status")
		apiErr := &APIError{Code: ErrInternalServer, Message: "x", HTTPStatus: status}

		isClient, isServer := IsClientError(apiErr), IsServerError(apiErr)
		if isClient == isServer {
			t.Fatalf("status %d classified client=%v server=%v", status, isClient, isServer)
		}
		if (status < 500) != isClient {
			t.Fatalf("status %d misclassified", status)
		}
	})
}

func TestProperty_WithDetailsPreservesError(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		original := &APIError{
			Code:       ErrInvalidRequest,
			Message:    rapid.StringMatching(`[a-zA-Z0-9 ]{10,50}`).Draw(rt, "message"),
			HTTPStatus: rapid.IntRange(400, 599).Draw(rt, "status"),
		}
		details := map[string]string{"field": rapid.StringMatching(`[a-z]{5,10}`).Draw(rt, "field")}

		got := original.WithDetails(details)
		if got.Code != original.Code || got.Message != original.Message || got.HTTPStatus != original.HTTPStatus {
			t.Fatal("WithDetails must preserve code, message and status")
		}
		if got.Details == nil || got.Timestamp.IsZero() {
			t.Fatal("WithDetails must set details and timestamp")
		}
		if original.Details != nil {
			t.Fatal("WithDetails must not mutate the receiver")
		}
	})
}

func TestProperty_WithMessage(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		original := &APIError{Code: ErrValidationFailed, Message: "original", HTTPStatus: 400}
		msg := rapid.StringMatching(`[a-zA-Z0-9 ]{10,50}`).Draw(rt, "newMessage")

		got := original.WithMessage(msg)
		if got.Message != msg || got.Code != original.Code || original.Message != "original" {
			t.Fatal("WithMessage must only replace the message on a copy")
		}
	})
}

func TestProperty_RateLimitError(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		retryAfter := rapid.Int64Range(1, 3600).Draw(rt, "retryAfter")
		err := NewRateLimitError(retryAfter)

		if err.Code != ErrRateLimited || err.HTTPStatus != http.StatusTooManyRequests {
			t.Fatal("rate limit error must be RATE_LIMIT_EXCEEDED / 429")
		}
		details, ok := err.Details.(map[string]int64)
		if !ok || details["retry_after_seconds"] != retryAfter {
			t.Fatalf("retry_after_seconds should be %d, got %v", retryAfter, err.Details)
		}
	})
}
