package negotiate

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the negotiate package.
var (
	// ErrMissingAPIKey indicates the API key was not provided.
	ErrMissingAPIKey = errors.New("negotiate: API key is required")

	// ErrMissingAssistantID indicates the assistant ID was not provided.
	ErrMissingAssistantID = errors.New("negotiate: assistant ID is required")

	// ErrMalformedResponse indicates the call was created but the response
	// carried no usable endpoint.
	ErrMalformedResponse = errors.New("negotiate: malformed response")
)

// APIError is a non-2xx answer from the call-creation endpoint.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the server's error text, if any.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("negotiate: API error (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("negotiate: API error (HTTP %d)", e.StatusCode)
}

// IsRetryable returns true for rate limiting and server errors.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsUnauthorized reports whether err is a rejected credential.
func IsUnauthorized(err error) bool {
	if errors.Is(err, ErrMissingAPIKey) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
	}
	return false
}

// IsRetryable reports whether the same request may succeed later without
// changing credentials.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return !errors.Is(err, ErrMissingAPIKey) &&
		!errors.Is(err, ErrMissingAssistantID) &&
		!errors.Is(err, ErrMalformedResponse)
}
