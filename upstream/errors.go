package upstream

import "fmt"

// NetworkError indicates the request never produced a usable HTTP response:
// connection failures, timeouts, or a body that could not be read.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("upstream network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError indicates the upstream answered with a non-200 status.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string { return fmt.Sprintf("upstream http error: status %d", e.Status) }

// ParseError indicates the upstream body was received but could not be
// decoded into a war status record.
type ParseError struct {
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream parse error: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("upstream parse error: %s", e.Detail)
}

func (e *ParseError) Unwrap() error { return e.Err }
