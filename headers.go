package mediafetch

import (
	"net/http"
)

// HeaderTransport adds fixed headers to outgoing requests. Headers already present on a request are left alone,
// since some backends set their own client identity.
type HeaderTransport struct {
	Header http.Header
	Base   http.RoundTripper
}

func (t *HeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	req = req.Clone(req.Context())
	for key, values := range t.Header {
		if req.Header.Get(key) == "" {
			req.Header[key] = append([]string(nil), values...)
		}
	}
	return base.RoundTrip(req)
}

// NewHTTPClient returns a client sending the configured headers.
func NewHTTPClient(headers HeaderConfig) *http.Client {
	return &http.Client{
		Transport: &HeaderTransport{Header: headers.Header()},
	}
}
