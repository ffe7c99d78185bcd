package call

import (
	"errors"
	"net/http"

	"github.com/teslashibe/go-voicecall/pkg/negotiate"
	"github.com/teslashibe/go-voicecall/pkg/transport"
)

// Sentinel errors for the call package.
var (
	// ErrInvalidTransition is returned when an operation is not valid in
	// the current state, such as ToggleOn while a call is in progress.
	ErrInvalidTransition = errors.New("call: invalid state transition")

	// ErrBusy is returned by Toggle while a transition is in progress.
	ErrBusy = errors.New("call: transition in progress")

	// ErrShutdown is returned after Shutdown.
	ErrShutdown = errors.New("call: controller shut down")

	// ErrMissingNegotiator indicates no Negotiator was configured.
	ErrMissingNegotiator = errors.New("call: negotiator is required")

	// ErrMissingMicrophone indicates no microphone was configured.
	ErrMissingMicrophone = errors.New("call: microphone is required")

	// ErrMissingSink indicates no audio sink was configured.
	ErrMissingSink = errors.New("call: audio sink is required")
)

// IsRetryable reports whether toggling on again, without changing
// credentials, may succeed after err.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if negotiate.IsUnauthorized(err) || errors.Is(err, negotiate.ErrMissingAssistantID) {
		return false
	}

	var apiErr *negotiate.APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}

	var connErr *transport.ConnectError
	if errors.As(err, &connErr) {
		return connErr.StatusCode == 0 ||
			connErr.StatusCode == http.StatusTooManyRequests ||
			connErr.StatusCode >= 500
	}

	return !errors.Is(err, ErrShutdown)
}
