package wire

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/nullrunner/mcp-gateway/pkg/config"
)

const (
	tokenLength  = 50
	tokenCharset = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// GenerateAuthToken returns a random 50-character lowercase-alphanumeric
// token, used by the composition root to fill in config.AuthConfig.Token
// when the gate is enabled but no token was configured.
func GenerateAuthToken() (string, error) {
	token := make([]byte, tokenLength)
	charsetLen := big.NewInt(int64(len(tokenCharset)))
	for i := range tokenLength {
		num, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", fmt.Errorf("generating auth token: %w", err)
		}
		token[i] = tokenCharset[num.Int64()]
	}
	return string(token), nil
}

// unauthenticatedPaths are never gated, so health checks and liveness probes
// work before a caller has a token.
var unauthenticatedPaths = map[string]bool{
	"/health": true,
}

// authMiddleware enforces the "simple API-key gate" of spec §1 via a Bearer
// token in the Authorization header, constant-time compared against cfg.Token.
func authMiddleware(cfg config.AuthConfig, next http.Handler) http.Handler {
	if !cfg.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if unauthenticatedPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		const bearerPrefix = "Bearer "
		authenticated := false
		if token, ok := strings.CutPrefix(authHeader, bearerPrefix); ok {
			authenticated = subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Token)) == 1
		}

		if !authenticated {
			w.Header().Set("WWW-Authenticate", `Bearer realm="MCP Gateway"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
