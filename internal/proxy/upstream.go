package proxy

import (
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader correlates gateway and backend logs.
const RequestIDHeader = "X-Request-ID"

// strippedHeaders carry browser credentials that must never reach the backend.
// The managed bearer token replaces them.
var strippedHeaders = []string{
	"Authorization",
	"Cookie",
	"Proxy-Authorization",
}

// UpstreamTransport is an http.RoundTripper that prepares dashboard requests for the backend.
type UpstreamTransport struct {
	Base http.RoundTripper
}

// Compile-time check that UpstreamTransport implements http.RoundTripper.
var _ http.RoundTripper = (*UpstreamTransport)(nil)

// RoundTrip implements http.RoundTripper interface.
// Drops client credentials and ensures every request carries a request ID.
func (t *UpstreamTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	// Clone request for modification
	newReq := req.Clone(req.Context())

	for _, key := range strippedHeaders {
		newReq.Header.Del(key)
	}

	if newReq.Header.Get(RequestIDHeader) == "" {
		newReq.Header.Set(RequestIDHeader, uuid.NewString())
	}

	return base.RoundTrip(newReq)
}
