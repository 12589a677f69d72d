package client

import (
	"errors"
	"fmt"
	"net/http"
)

// QueryError is a failed call to an upstream: transport failure, non-2xx
// status or an undecodable body.
type QueryError struct {
	Op     string // "events", "event", "interact", "recommendations", "feed"
	URL    string // redacted
	Status int    // 0 when no response was received
	Err    error
}

func (e *QueryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a QueryError worth retrying: transport
// failures, 5xx, 408 and 429. Other 4xx answers will not change on retry.
func IsRetryable(err error) bool {
	var qe *QueryError
	if !errors.As(err, &qe) {
		return false
	}
	switch {
	case qe.Status == 0:
		return true
	case qe.Status == http.StatusRequestTimeout, qe.Status == http.StatusTooManyRequests:
		return true
	case qe.Status >= 500:
		return true
	}
	return false
}

// IsNotFound reports whether err is a 404 QueryError.
func IsNotFound(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Status == http.StatusNotFound
}
