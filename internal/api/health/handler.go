package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"callwatch/pkg/logger"
)

// Component is a dependency probed by the readiness and health endpoints
type Component struct {
	Name     string
	Ping     func(ctx context.Context) error
	Optional bool // failure degrades instead of failing readiness
}

// Handler provides probe endpoints
type Handler struct {
	log         *logger.Logger
	components  []Component
	startTime   time.Time
	serviceName string
	version     string
}

// New creates a new probe handler
func New(log *logger.Logger, serviceName, version string, components ...Component) *Handler {
	return &Handler{
		log:         log.With("component", "probes"),
		components:  components,
		startTime:   time.Now(),
		serviceName: serviceName,
		version:     version,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                     `json:"status"` // healthy, degraded, unhealthy
	Service   string                     `json:"service"`
	Version   string                     `json:"version"`
	Uptime    string                     `json:"uptime"`
	Timestamp string                     `json:"timestamp"`
	Checks    map[string]ComponentHealth `json:"checks"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HandleLiveness returns 200 while the process is up
func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleReadiness fails when any required component is down
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, requiredDown, _ := h.probe(ctx)

	code := http.StatusOK
	if requiredDown > 0 {
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
		h.log.Warnw("Readiness check failed", "checks", status.Checks)
	}
	writeJSON(w, code, status)
}

// HandleHealth reports every component; optional failures only degrade
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status, requiredDown, optionalDown := h.probe(ctx)

	code := http.StatusOK
	switch {
	case requiredDown > 0:
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	case optionalDown > 0:
		status.Status = "degraded"
	}
	writeJSON(w, code, status)
}

func (h *Handler) probe(ctx context.Context) (HealthStatus, int, int) {
	status := HealthStatus{
		Status:    "healthy",
		Service:   h.serviceName,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    make(map[string]ComponentHealth, len(h.components)),
	}

	requiredDown, optionalDown := 0, 0
	for _, c := range h.components {
		res := h.check(ctx, c)
		status.Checks[c.Name] = res
		if res.Status == "healthy" {
			continue
		}
		if c.Optional {
			optionalDown++
		} else {
			requiredDown++
		}
	}
	return status, requiredDown, optionalDown
}

func (h *Handler) check(ctx context.Context, c Component) ComponentHealth {
	start := time.Now()
	err := c.Ping(ctx)
	elapsed := time.Since(start)

	if err != nil {
		h.log.Errorw("Health check failed", "component", c.Name, "error", err, "elapsed", elapsed)
		return ComponentHealth{
			Status:       "unhealthy",
			ResponseTime: elapsed.String(),
			Error:        err.Error(),
		}
	}
	return ComponentHealth{Status: "healthy", ResponseTime: elapsed.String()}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
