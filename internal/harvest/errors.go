package harvest

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrNotFound signals that a requested record is absent from a store.
var ErrNotFound = errors.New("not found")

// NetworkError wraps a transport-level failure (DNS, connect, timeout,
// reset). It is the only failure kind the fetch layer raises as an error;
// everything application-level is returned as CrawlOutcome data.
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

// IsNetworkError reports whether err is (or wraps) a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsTransportFailure reports whether err looks like a connection-level
// failure worth classifying as a NetworkError: timeouts, refused
// connections, DNS failures, resets, and context deadlines hit mid-dial.
func IsTransportFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// ValidationError rejects malformed caller input before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CrawlError adapts a failed CrawlOutcome into an error for retry loops
// that want error-shaped control flow. It carries only the reduced
// {message, classification} projection.
type CrawlError struct {
	Class   FailureClass
	Message string
}

func (e *CrawlError) Error() string {
	return e.Message
}

// JobError reduces the error to its persistable projection.
func (e *CrawlError) JobError() *JobError {
	return &JobError{Message: e.Message, Class: e.Class}
}

// FailureMessage maps a classification to the short user-visible text
// callers see, so they can decide whether a retry with fresh credentials
// is worthwhile.
func FailureMessage(class FailureClass) string {
	switch class {
	case FailureAuthRequired:
		return "requires login"
	case FailureAuthExpired:
		return "session cookie expired"
	case FailureChallengeRequired:
		return "requires human verification"
	case FailureBlocked:
		return "rate-limited or blocked"
	case FailureNotFound:
		return "content not found"
	case FailureUnexpectedRedirect:
		return "unexpected redirect"
	case FailureHTTPError:
		return "upstream http error"
	case FailureParseFailed:
		return "could not parse content"
	default:
		return "crawl failed"
	}
}
