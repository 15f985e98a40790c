package tracker

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every failed call returns an *APIError whose Kind is one of these,
// so callers can test with errors.Is.
var (
	// ErrAuthentication means the server rejected the credentials (401/403).
	ErrAuthentication = errors.New("authentication failed")

	// ErrNotFound means the resource is missing (404), or the server could not be
	// reached at all (wrong host or base path).
	ErrNotFound = errors.New("not found")

	// ErrServer means the server failed the request (5xx).
	ErrServer = errors.New("server error")

	// ErrBadRequest covers the remaining 4xx responses (validation, conflicts).
	ErrBadRequest = errors.New("request rejected")
)

// APIError describes a failed tracker call.
type APIError struct {
	Op     string // e.g. "create item"
	Status int    // 0 when the request never got a response
	Kind   error
	Body   string
	Err    error // transport or decode failure, if any
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("tracker %s: %v", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause.
func (e *APIError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// kindForStatus maps an HTTP status to an error kind; nil means success.
func kindForStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthentication
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= 500:
		return ErrServer
	default:
		return ErrBadRequest
	}
}

// Remediation returns the message shown to an operator after a failed connect.
func Remediation(err error) string {
	switch {
	case errors.Is(err, ErrServer):
		return "Server Error: Please confirm server is running"
	case errors.Is(err, ErrAuthentication):
		return "Unauthorized: Please check your username and password"
	case errors.Is(err, ErrNotFound):
		return "The server was not found. Please ensure your URL is pointing to a Codebeamer instance."
	default:
		return "Unexpected error: " + err.Error()
	}
}
