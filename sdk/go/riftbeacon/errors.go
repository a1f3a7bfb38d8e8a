package riftbeacon

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes returned by the RiftBeacon API.
const (
	CodeSessionExpired          = "SESSION_EXPIRED"
	CodeSessionAlreadyCompleted = "SESSION_ALREADY_COMPLETED"
	CodeSessionNotFound         = "SESSION_NOT_FOUND"
	CodeSessionWrongUser        = "SESSION_WRONG_USER"
	CodeNullifierConsumed       = "NULLIFIER_ALREADY_CONSUMED"
	CodeScoreNotInitialized     = "SCORE_NOT_INITIALIZED"
	CodeUnauthorized            = "UNAUTHORIZED"
)

// APIError represents a non-2xx response from the API.
type APIError struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Retryable  bool              `json:"retryable,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("riftbeacon api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("riftbeacon api error (%d): %s", e.StatusCode, e.Message)
}

// temporary reports whether repeating the request may succeed.
func (e *APIError) temporary() bool {
	return e.Retryable || e.StatusCode == http.StatusServiceUnavailable || e.StatusCode == http.StatusTooManyRequests
}

// HasCode reports whether err is an *APIError carrying code.
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// IsSessionExpired reports whether the session window has closed.
func IsSessionExpired(err error) bool { return HasCode(err, CodeSessionExpired) }

// IsAlreadyCompleted reports whether the session was already answered.
func IsAlreadyCompleted(err error) bool { return HasCode(err, CodeSessionAlreadyCompleted) }

// IsUnauthorized reports whether the caller lacks a capability or a valid token.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.Code == CodeUnauthorized
}
