package rest

import (
	"errors"
	"fmt"
)

// APIError is a non-2xx response from the resource API. Callers use
// errors.As to get at the server message.
type APIError struct {
	StatusCode int
	Message    string
	Method     string
	Path       string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rest: %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("rest: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// errorBody accepts both {"message": ...} and {"error": ...}.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (b errorBody) text() string {
	if b.Message != "" {
		return b.Message
	}
	return b.Error
}

// UserMessage returns the server-provided message of err when present,
// fallback otherwise.
func UserMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// IsStatus reports whether err is an *APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}
