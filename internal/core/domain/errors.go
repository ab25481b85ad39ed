package domain

import (
	"errors"
	"fmt"
)

// ErrStaleResponse marks a completion that belongs to an older request or a
// previous key. It is dropped silently and never surfaced.
var ErrStaleResponse = errors.New("stale response")

// ErrNotTracking is returned when an operation needs a tracked key.
var ErrNotTracking = errors.New("no key is being tracked")

// TransportError covers anything that prevented a well-formed answer:
// network failures, timeouts, open breakers and malformed bodies.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteError is a structured failure reported by the service as a non-2xx
// response with a JSON {"error": "..."} body.
type RemoteError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: remote error (status %d): %s", e.Op, e.StatusCode, e.Message)
}

// IsTransport reports whether err is or wraps a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRemote reports whether err is or wraps a RemoteError.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
