package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
)

func ok(context.Context) error   { return nil }
func down(context.Context) error { return errors.ErrUnavailable }

func serve(t *testing.T, h http.HandlerFunc) (int, HealthStatus) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	return rec.Code, status
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		components []Component
		wantCode   int
		wantStatus string
	}{
		{
			name:       "all healthy",
			components: []Component{{Name: "postgres", Ping: ok}, {Name: "redis", Ping: ok}},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name:       "optional down degrades",
			components: []Component{{Name: "postgres", Ping: ok}, {Name: "clickhouse", Ping: down, Optional: true}},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
		{
			name:       "required down",
			components: []Component{{Name: "postgres", Ping: down}, {Name: "redis", Ping: ok}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(logger.Nop(), "callwatch", "test", tt.components...)
			code, status := serve(t, h.HandleHealth)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Len(t, status.Checks, len(tt.components))
		})
	}
}

func TestHandleReadiness_IgnoresOptional(t *testing.T) {
	h := New(logger.Nop(), "callwatch", "test",
		Component{Name: "postgres", Ping: ok},
		Component{Name: "clickhouse", Ping: down, Optional: true},
	)

	code, status := serve(t, h.HandleReadiness)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "unhealthy", status.Checks["clickhouse"].Status)
	assert.Contains(t, status.Checks["clickhouse"].Error, "unavailable")
}

func TestHandleLiveness(t *testing.T) {
	rec := httptest.NewRecorder()
	New(logger.Nop(), "callwatch", "test").HandleLiveness(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}
