package upstream

import (
	"errors"
	"fmt"
)

// StatusError is a non-2xx upstream answer.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s failed: HTTP %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s failed: HTTP %d; body: %s", e.Op, e.Status, e.Body)
}

// StatusCode lets callers outside this package read the status without
// importing it.
func (e *StatusError) StatusCode() int { return e.Status }

// StatusOf extracts the HTTP status from err.
func StatusOf(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status, true
	}
	return 0, false
}

var (
	// ErrNoClearance is returned by calls that need cf_clearance when none is configured.
	ErrNoClearance = errors.New("cf_clearance not configured")
	// ErrEmptyBody is returned when upstream answered 200 with nothing to parse.
	ErrEmptyBody = errors.New("empty response body")
)
