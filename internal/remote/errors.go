// Package remote is the HTTP client for the per-entity collection API.
// It handles routing, bearer authentication, retry with exponential
// backoff, and error classification. The sync worker uses the
// classification to decide between "retry later" (network, 5xx) and
// "stuck until a human looks" (validation rejection).
package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status classification.
// Use errors.Is(err, remote.ErrRejected) to check.
var (
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrNotFound     = errors.New("remote: not found")
	ErrRejected     = errors.New("remote: request rejected")
	ErrServer       = errors.New("remote: server error")
)

// APIError wraps a sentinel error with the HTTP status code and the
// response body for diagnostics.
type APIError struct {
	Status int
	Body   string
	Err    error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote: HTTP %d: %s", e.Status, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx HTTP status code to a sentinel error.
// Any 4xx other than 401/404/408/429 is a validation rejection: retrying
// the same payload cannot succeed.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		// Transient despite being 4xx; classified with the server errors so
		// an exhausted retry budget leaves the job retryable.
		return ErrServer
	case code >= http.StatusInternalServerError:
		return ErrServer
	case code >= http.StatusBadRequest:
		return ErrRejected
	default:
		return nil
	}
}

// isRetryable reports whether the status code is worth another attempt.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
