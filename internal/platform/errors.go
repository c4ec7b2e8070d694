package platform

import (
	"errors"
	"fmt"
	"net/http"
)

// FailureKind classifies a failed platform call. Transient failures are
// expected to succeed on retry; permanent failures will not succeed no
// matter how often they are retried.
type FailureKind int

const (
	// FailTransient covers network blips, rate limiting, and server errors.
	FailTransient FailureKind = iota
	// FailPermanent covers client errors the platform will keep rejecting.
	FailPermanent
	// FailNotFound means the resource does not exist or was already disposed.
	FailNotFound
)

func (k FailureKind) String() string {
	switch k {
	case FailTransient:
		return "transient"
	case FailPermanent:
		return "permanent"
	case FailNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a classified failure from a platform call. StatusCode is zero for
// failures that never produced an HTTP response.
type Error struct {
	Kind       FailureKind
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("platform: %s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("platform: %s: %s", e.Kind, e.Message)
}

// IsTransient reports whether err is a platform failure worth retrying.
func IsTransient(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == FailTransient
}

// IsPermanent reports whether err is a platform failure that retrying cannot fix.
func IsPermanent(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == FailPermanent
}

// IsNotFound reports whether err means the remote resource is gone.
func IsNotFound(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == FailNotFound
}

// classifyStatus maps an HTTP status code to a failure kind. Rate limits and
// request timeouts count as transient alongside server errors.
func classifyStatus(status int) FailureKind {
	switch {
	case status == http.StatusNotFound:
		return FailNotFound
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return FailTransient
	case status >= 500:
		return FailTransient
	default:
		return FailPermanent
	}
}
