package chaterr

import (
	"context"
	"errors"
	"net"
	"net/http"
)

var (
	// ErrNetworkUnavailable is transient: the request never completed. Safe
	// to retry.
	ErrNetworkUnavailable = errors.New("network unavailable")
	// ErrSessionInvalid means the bearer credential was rejected. Fatal for
	// the connection; never retried automatically.
	ErrSessionInvalid = errors.New("session invalid")
	ErrNotFound       = errors.New("not found")
	// ErrAttachmentTooLarge is raised client-side before any network call.
	ErrAttachmentTooLarge = errors.New("attachment too large")
	ErrAttachmentRejected = errors.New("attachment rejected")
	ErrRateLimited        = errors.New("rate limited")
)

// FromStatus maps an HTTP response status to the error taxonomy. 2xx maps to
// nil.
func FromStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrSessionInvalid
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusRequestEntityTooLarge:
		return ErrAttachmentTooLarge
	case code == http.StatusUnsupportedMediaType || code == http.StatusUnprocessableEntity:
		return ErrAttachmentRejected
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code >= 500:
		return ErrNetworkUnavailable
	default:
		return ErrNetworkUnavailable
	}
}

// FromTransport classifies a transport-level failure. Context cancellation is
// passed through so an aborted page load is distinguishable from a dead
// network.
func FromTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &ne) {
		return ErrNetworkUnavailable
	}
	return ErrNetworkUnavailable
}

// Retryable reports whether the operation that produced err may be retried
// without operator intervention.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetworkUnavailable) || errors.Is(err, ErrRateLimited)
}
