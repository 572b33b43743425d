package transport

import (
	"errors"
	"fmt"
)

// Kind classifies a failed call.
type Kind string

const (
	KindNetwork    Kind = "network"
	KindCors       Kind = "cors"
	KindTimeout    Kind = "timeout"
	KindHTTPStatus Kind = "http_status"
	KindMalformed  Kind = "malformed"
)

// maxErrorBody caps the response body kept on an Error.
const maxErrorBody = 4096

// Error is the only error type returned by Client.
type Error struct {
	Kind       Kind
	StatusCode int    // set when a response was received
	Message    string // original failure message
	Body       string // response body if one was received, capped at 4 KiB
	Attempts   int

	// CORSReason is set on a KindHTTPStatus error whose response would also
	// have been rejected by a browser for the request origin.
	CORSReason string
	Err        error

	// terminal marks network errors that must not be retried, such as
	// caller cancellation or an unbuildable request.
	terminal bool
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		if e.Body != "" {
			return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
		}
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	default:
		return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may be retried by the client.
// Only network-class failures qualify.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork && !e.terminal
}

// KindOf returns the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// Malformed builds the error for a response whose body could not be decoded.
func Malformed(resp *Response, msg string) *Error {
	e := &Error{Kind: KindMalformed, Message: msg}
	if resp != nil {
		e.StatusCode = resp.StatusCode
		e.Body = truncate(resp.Body)
		e.Attempts = resp.Attempts
	}
	return e
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return string(body)
}
