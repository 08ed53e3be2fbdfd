package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotFound matches a RejectedError whose status is 404.
var ErrNotFound = errors.New("not found")

// TransportError means the request never produced an HTTP response:
// connection refused, timeout, cancelled context, broken stream.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRetryable is always true; the user decides when to retry.
func (e *TransportError) IsRetryable() bool {
	return true
}

// RejectedError is a non-2xx answer from the backend. Detail carries the
// server-supplied explanation when the body was a {"detail": ...} object.
type RejectedError struct {
	Op         string
	StatusCode int
	Detail     string
	Body       string
}

func (e *RejectedError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = strings.TrimSpace(e.Body)
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s rejected: HTTP %d: %s", e.Op, e.StatusCode, msg)
}

// Is lets errors.Is(err, ErrNotFound) match 404 rejections.
func (e *RejectedError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsRetryable returns true for server errors (5xx).
// Client errors (4xx) are considered permanent.
func (e *RejectedError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// IsTransport reports whether err is or wraps a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRejected reports whether err is or wraps a RejectedError.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// Reason returns the most specific human-readable reason for err: the
// server detail for rejections, the message otherwise.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var re *RejectedError
	if errors.As(err, &re) && re.Detail != "" {
		return re.Detail
	}
	return err.Error()
}

func newRejectedError(op string, status int, body []byte) *RejectedError {
	return &RejectedError{
		Op:         op,
		StatusCode: status,
		Detail:     parseDetail(body),
		Body:       string(body),
	}
}

// parseDetail extracts FastAPI-style {"detail": ...} bodies. Validation
// errors carry a list instead of a string; those are kept as compact JSON.
func parseDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if len(envelope.Detail) > 0 {
		var s string
		if err := json.Unmarshal(envelope.Detail, &s); err == nil {
			return s
		}
		return string(envelope.Detail)
	}
	return envelope.Error
}
