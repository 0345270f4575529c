package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMissingCredential is wrapped by ConfigError when a backend has no
// API key.
var ErrMissingCredential = errors.New("credential not configured")

// ConfigError is a deployment problem the caller cannot correct.
type ConfigError struct {
	Backend string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %v", e.Backend, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Error is a non-2xx answer from a provider. Body holds the raw response
// for diagnostics.
type Error struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Backend, e.StatusCode, e.Body)
}

// Retryable reports whether another backend might succeed where this one
// failed.
func (e *Error) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// InputError is a malformed request detected before any network call.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

// TransportError wraps a failure to reach the provider at all.
type TransportError struct {
	Backend string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Backend, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ShouldFallback reports whether err from one backend justifies trying the
// other. Configuration and input errors never do.
func ShouldFallback(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Retryable()
	}
	var te *TransportError
	return errors.As(err, &te)
}
