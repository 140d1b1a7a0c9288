package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrProvider matches every *Error with errors.Is.
	ErrProvider = errors.New("verification provider error")
	// ErrInvalidProfile means the request was never sent: the profile lacks
	// required fields or the country is unsupported.
	ErrInvalidProfile = errors.New("profile cannot be submitted for verification")
)

type ErrorKind string

const (
	// KindHTTP is a non-2xx answer; the provider saw and rejected the request.
	KindHTTP            ErrorKind = "http"
	KindTransport       ErrorKind = "transport"
	KindTimeout         ErrorKind = "timeout"
	KindInvalidResponse ErrorKind = "invalid_response"
)

type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("provider %s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("provider %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrProvider
}

// Rejected reports whether the provider answered and refused the request,
// as opposed to the call never completing.
func (e *Error) Rejected() bool {
	return e.Kind == KindHTTP || e.Kind == KindInvalidResponse
}

var statusMessages = map[int]string{
	400: "Bad request - invalid parameters",
	401: "Unauthorized - invalid client credentials",
	403: "Forbidden - account not permitted for this operation",
	404: "Not found - invalid endpoint",
	409: "Conflict - duplicate reference",
	429: "Too many requests - rate limited by provider",
	500: "Provider internal server error",
}

func messageForStatus(code int) string {
	if msg, ok := statusMessages[code]; ok {
		return msg
	}
	if code >= 500 {
		return "Provider service unavailable"
	}
	return "Unexpected provider response"
}
