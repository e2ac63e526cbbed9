package pool

import "net/http"

// headerRoundTripper overlays configured headers onto every outbound
// request, used to carry auth/custom headers to http/sse/streamable-http
// upstreams (spec §6 "HTTP-ish transports include configured headers").
type headerRoundTripper struct {
	headers map[string]string
	next    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	return h.next.RoundTrip(req)
}

func httpClientWithHeaders(headers map[string]string) *http.Client {
	if len(headers) == 0 {
		return http.DefaultClient
	}
	return &http.Client{
		Transport: &headerRoundTripper{headers: headers, next: http.DefaultTransport},
	}
}
