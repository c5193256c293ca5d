package gateway

import (
	"errors"
	"net"
	"net/url"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// isUnavailable classifies an error as a non-semantic transport
// failure: connection refused, TLS error, DNS failure, or the API
// server's own "unavailable"/timeout statuses. Semantic failures
// (NotFound, AlreadyExists, Conflict, Forbidden, Invalid) are left for
// callers to handle explicitly — only transport/connectivity failures
// collapse into Unavailable.
func isUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if apierrors.IsServerTimeout(err) || apierrors.IsTimeout(err) ||
		apierrors.IsServiceUnavailable(err) || apierrors.IsUnexpectedServerError(err) ||
		apierrors.IsInternalError(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return false
}
