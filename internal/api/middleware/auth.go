package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"callwatch/pkg/logger"
)

// TokenAuth guards operational endpoints with a static bearer token
type TokenAuth struct {
	token string
	log   *logger.Logger
}

// NewTokenAuth creates a new bearer token middleware. An empty token rejects every request.
func NewTokenAuth(token string, log *logger.Logger) *TokenAuth {
	return &TokenAuth{
		token: token,
		log:   log.With("middleware", "token_auth"),
	}
}

// Handler wraps next with the bearer token check
func (m *TokenAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.token == "" {
			deny(w, http.StatusServiceUnavailable, "ops api disabled")
			return
		}

		got, ok := bearer(r.Header.Get("Authorization"))
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(m.token)) != 1 {
			m.log.Warnw("Rejected ops request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"has_header", ok,
			)
			deny(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

func deny(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
