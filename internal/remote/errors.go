package remote

import (
	"errors"
	"fmt"
)

// ErrNetwork marks failures where the remote cart could not be reached or
// did not produce a complete response. An open circuit breaker counts too.
var ErrNetwork = errors.New("remote cart unreachable")

// StatusError is a response outside the 2xx range.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Temporary reports whether the backend itself failed, as opposed to
// rejecting the request.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500
}
