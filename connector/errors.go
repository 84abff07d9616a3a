package connector

import (
	"errors"
	"fmt"
)

// ErrAuth marks 401/403 responses: permanent for the current credentials.
// Syncs hitting it are marked error without retry — human action required.
var ErrAuth = errors.New("connector: authentication rejected")

// ErrThrottled marks 429 responses. Transient; the caller's retry policy and
// rate limiter absorb it.
var ErrThrottled = errors.New("connector: rate limited by source")

// ErrNotFound marks replies to records the source no longer knows.
var ErrNotFound = errors.New("connector: item not found")

// StatusError carries the HTTP status of a failed source call, wrapped around
// the taxonomy sentinel where one applies.
type StatusError struct {
	Status int
	Op     string // "list" or "send_reply"
	Err    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("connector: %s: http %d: %v", e.Op, e.Status, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// statusErr maps an HTTP status onto the error taxonomy.
func statusErr(op string, status int) error {
	var base error
	switch {
	case status == 401 || status == 403:
		base = ErrAuth
	case status == 429:
		base = ErrThrottled
	case status == 404:
		base = ErrNotFound
	default:
		base = fmt.Errorf("unexpected status")
	}
	return &StatusError{Status: status, Op: op, Err: base}
}

// IsTerminal reports whether err is permanent for the current configuration —
// retrying without human intervention cannot succeed.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrAuth)
}
