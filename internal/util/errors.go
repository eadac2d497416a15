package util

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNetwork              = errors.New("network error")
	ErrAuthRequired         = errors.New("authentication required")
	ErrAccessDenied         = errors.New("access denied")
	ErrPaymentRequired      = errors.New("payment required")
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	ErrNotFound             = errors.New("not found")
	ErrBadRequest           = errors.New("bad request")
	ErrInvalidResponse      = errors.New("invalid response")
	ErrNoCredentials        = errors.New("no credentials")

	ErrAttemptNotFound   = errors.New("attempt not found")
	ErrAttemptNotActive  = errors.New("attempt is not active")
	ErrAttemptClosed     = errors.New("attempt closed")
	ErrSubmitInProgress  = errors.New("submission already in progress")
	ErrSubmitUnavailable = errors.New("submit is only available on the last page")
	ErrSaveFailed        = errors.New("no answers could be saved")
	ErrTimeUp            = errors.New("time is up")
	ErrUnknownQuestion   = errors.New("question is not part of this attempt")
	ErrUnknownChoice     = errors.New("choice does not belong to the question")
)

// APIError is a non-2xx response from the exam API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

// Unwrap lets errors.Is match the status-specific sentinel.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrAuthRequired
	case http.StatusPaymentRequired:
		return ErrPaymentRequired
	case http.StatusForbidden:
		return ErrAccessDenied
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest:
		return ErrBadRequest
	}
	return nil
}

// NetworkError is a transport failure: no response, or the timeout elapsed.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	return []error{ErrNetwork, e.Err}
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
