package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// Version returns the version of wattflow.
func Version() string {
	return strings.TrimSpace(version)
}

// UserAgent is the User-Agent sent with every outgoing request.
func UserAgent() string {
	return "Wattflow/" + Version()
}

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip implements http.RoundTripper
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original request's headers
	// which might be shared or reused
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// HTTPClient returns a default http client with a default user-agent set
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &userAgentTransport{
			transport: http.DefaultTransport,
			userAgent: UserAgent(),
		},
		Timeout: timeout,
	}
}

// Header returns the headers every outgoing request carries. It's used
// where a request isn't made through HTTPClient, like websocket dials.
func Header() http.Header {
	h := make(http.Header)
	h.Set("User-Agent", UserAgent())
	return h
}
