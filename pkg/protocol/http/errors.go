package http

import (
	"errors"
	"fmt"
)

type ErrorType int

const (
	ErrorTypeNetwork ErrorType = iota
	ErrorTypeHTTP
	ErrorTypeValidation
	ErrorTypeTimeout
	ErrorTypeRedirect
)

// ErrTooManyRedirects is wrapped by the HTTPError returned when the
// redirect limit is hit.
var ErrTooManyRedirects = errors.New("too many redirects")

type HTTPError struct {
	Type      ErrorType
	Operation string
	URL       string
	Status    int
	Err       error
}

func NewHTTPNetworkError(op, url string, err error) *HTTPError {
	if errors.Is(err, ErrTooManyRedirects) {
		return &HTTPError{Type: ErrorTypeRedirect, Operation: op, URL: url, Err: err}
	}
	return &HTTPError{Type: ErrorTypeNetwork, Operation: op, URL: url, Err: err}
}

func NewHTTPStatusError(op, url string, status int, err error) *HTTPError {
	return &HTTPError{Type: ErrorTypeHTTP, Operation: op, URL: url, Status: status, Err: err}
}

func (e *HTTPError) Error() string {
	switch e.Type {
	case ErrorTypeHTTP:
		return fmt.Sprintf("HTTP error during %s for %s: status %d: %v",
			e.Operation, e.URL, e.Status, e.Err)
	case ErrorTypeNetwork:
		return fmt.Sprintf("network error during %s for %s: %v",
			e.Operation, e.URL, e.Err)
	case ErrorTypeTimeout:
		return fmt.Sprintf("timeout during %s for %s: %v",
			e.Operation, e.URL, e.Err)
	case ErrorTypeRedirect:
		return fmt.Sprintf("redirect error during %s for %s: %v",
			e.Operation, e.URL, e.Err)
	default:
		return fmt.Sprintf("error during %s for %s: %v",
			e.Operation, e.URL, e.Err)
	}
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}
