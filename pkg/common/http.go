package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// Version returns the release version of the binary.
func Version() string {
	return strings.TrimSpace(version)
}

// UserAgent returns the User-Agent sent with every outgoing request.
func UserAgent() string {
	return "Octobridge/" + Version()
}

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
	apiKey    string
}

// RoundTrip implements http.RoundTripper by setting the User-Agent header and,
// when configured, basic auth with the API key as the username.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original request's headers
	// which might be shared or reused
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	if t.apiKey != "" && req.Header.Get("Authorization") == "" {
		req.SetBasicAuth(t.apiKey, "")
	}
	return t.transport.RoundTrip(req)
}

// ClientOption customizes the client returned by HTTPClient.
type ClientOption func(*userAgentTransport)

// WithBasicAuthKey sends key as the basic auth username on requests that do
// not already carry an Authorization header.
func WithBasicAuthKey(key string) ClientOption {
	return func(t *userAgentTransport) {
		t.apiKey = key
	}
}

// HTTPClient returns a default http client with a default user-agent set
func HTTPClient(timeout time.Duration, opts ...ClientOption) *http.Client {
	t := &userAgentTransport{
		transport: http.DefaultTransport,
		userAgent: UserAgent(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return &http.Client{
		Transport: t,
		Timeout:   timeout,
	}
}
