package wire

import (
	"net/http"
	"net/url"
)

// isLoopbackOrigin reports whether origin names localhost or 127.0.0.1 over
// http/https, any port.
func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}

// originSecurity rejects cross-origin browser requests that don't come from
// localhost, blocking DNS-rebinding attacks against the SSE/streamable-HTTP
// surfaces (spec §1 "simple API-key gate" assumes a trusted localhost
// caller; this closes the browser-reachable gap a bearer token alone
// leaves open). Requests with no Origin header (non-browser clients, and
// same-origin browser requests) pass through unchanged.
func originSecurity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && !isLoopbackOrigin(origin) {
			http.Error(w, "Forbidden: invalid Origin header", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
