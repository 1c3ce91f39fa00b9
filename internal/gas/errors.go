package gas

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when the client has no usable endpoint.
var ErrNotConfigured = errors.New("deployment endpoint is not configured")

// NetworkError wraps a transport failure (DNS, connect, reset, timeout).
type NetworkError struct {
	Mode Mode
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s request: %v", e.Mode, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError reports a non-2xx status from the endpoint.
type HTTPError struct {
	Mode   Mode
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s request: http %d", e.Mode, e.Status)
}

// ParseError reports a body that does not have the expected JSON shape.
type ParseError struct {
	Mode Mode
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s response: %v", e.Mode, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsTransport reports whether err is one of the remote failure kinds.
func IsTransport(err error) bool {
	var (
		netErr   *NetworkError
		httpErr  *HTTPError
		parseErr *ParseError
	)
	return errors.As(err, &netErr) || errors.As(err, &httpErr) || errors.As(err, &parseErr)
}
