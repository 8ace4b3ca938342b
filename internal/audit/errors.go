package audit

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages.
var (
	// ErrRateLimitExhausted is returned when every fetch attempt was answered
	// with 429 Too Many Requests.
	ErrRateLimitExhausted = errors.New("rate limit retries exhausted")
	// ErrPaginationLimit is returned when the collector exceeds its page cap.
	ErrPaginationLimit = errors.New("pagination limit reached")
	// ErrMalformedResponse is returned when an endpoint body cannot be decoded.
	ErrMalformedResponse = errors.New("malformed platform response")
	// ErrUserNotFound is returned when the platform has no such handle.
	ErrUserNotFound = errors.New("user not found")
	// ErrSessionActive is returned when a session is started while another runs.
	ErrSessionActive = errors.New("an audit session is already active")
	// ErrNoSession is returned by control commands when nothing is running.
	ErrNoSession = errors.New("no audit session")
	// ErrNoResults is returned by export when no record exists for a target.
	ErrNoResults = errors.New("no audit results")
)

// NetworkError wraps a transport-level failure (DNS, connect, timeout).
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPError reports a non-success HTTP status.
type HTTPError struct {
	URL    string
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.Status, e.URL)
}

// ClassificationInputError reports a detail record that cannot be classified.
type ClassificationInputError struct {
	Handle string
	Field  string
}

func (e *ClassificationInputError) Error() string {
	return fmt.Sprintf("cannot classify %q: missing %s", e.Handle, e.Field)
}

// IsItemError reports whether err is an item-level failure: the item should
// be skipped and retried on a future run rather than aborting the session.
func IsItemError(err error) bool {
	var (
		netErr   *NetworkError
		httpErr  *HTTPError
		inputErr *ClassificationInputError
	)
	return errors.As(err, &netErr) ||
		errors.As(err, &httpErr) ||
		errors.As(err, &inputErr) ||
		errors.Is(err, ErrRateLimitExhausted) ||
		errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, ErrUserNotFound)
}
