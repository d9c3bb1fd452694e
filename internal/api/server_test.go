package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"callwatch/internal/api/health"
	"callwatch/pkg/logger"
)

func echo(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(name))
	})
}

func newTestServer(webhook http.Handler) *Server {
	return NewServer(ServerConfig{
		ServiceName:     "callwatch",
		Version:         "test",
		OpsToken:        "tok",
		TelegramWebhook: webhook,
		Relay:           echo("relay"),
		Ops:             echo("ops"),
	}, health.New(logger.Nop(), "callwatch", "test"), logger.Nop())
}

func TestServer_Routes(t *testing.T) {
	h := newTestServer(echo("webhook")).Handler()

	tests := []struct {
		name     string
		method   string
		path     string
		token    string
		wantCode int
		wantBody string
	}{
		{"root", http.MethodGet, "/", "", http.StatusOK, `"service":"callwatch"`},
		{"unknown", http.MethodGet, "/nope", "", http.StatusNotFound, ""},
		{"live", http.MethodGet, "/live", "", http.StatusOK, "alive"},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK, "callwatch_"},
		{"webhook is public", http.MethodPost, "/telegram/webhook", "", http.StatusOK, "webhook"},
		{"relay needs token", http.MethodPost, "/relay/messages", "", http.StatusUnauthorized, ""},
		{"relay with token", http.MethodPost, "/relay/messages", "tok", http.StatusOK, "relay"},
		{"ops needs token", http.MethodPost, "/ops/sync", "", http.StatusUnauthorized, ""},
		{"ops with token", http.MethodGet, "/ops/health", "tok", http.StatusOK, "ops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestServer_NoWebhookInPollingMode(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telegram/webhook", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
