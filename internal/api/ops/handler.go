package ops

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"callwatch/internal/domain/detection"
	"callwatch/internal/services/health"
	"callwatch/internal/services/syncer"
	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
)

const maxBodyBytes = 64 << 10

// Syncer is the sync orchestrator surface exposed to operators
type Syncer interface {
	Run(ctx context.Context, req syncer.Request) syncer.RunResult
	Status(ctx context.Context, recent int) (syncer.StatusReport, error)
	ResetErrors() syncer.ProcessState
	ForceStop(ctx context.Context) (int, error)
	RequestCancel(ctx context.Context, id *uuid.UUID) (uuid.UUID, error)
}

// Reviewer records human decisions on detections
type Reviewer interface {
	ReviewDetection(ctx context.Context, id uuid.UUID, approved bool, reviewer string) (*detection.Detection, error)
}

// HealthMonitor checks and repairs pipeline state
type HealthMonitor interface {
	Check(ctx context.Context) health.Report
	Repair(ctx context.Context) (health.RepairResult, error)
}

// Handler serves the operational endpoints. Authentication is applied by the caller.
type Handler struct {
	syncer   Syncer
	reviewer Reviewer
	monitor  HealthMonitor
	log      *logger.Logger
}

// NewHandler creates a new ops handler. syncer is nil in webhook mode.
func NewHandler(s Syncer, r Reviewer, m HealthMonitor, log *logger.Logger) *Handler {
	return &Handler{
		syncer:   s,
		reviewer: r,
		monitor:  m,
		log:      log.With("component", "ops_api"),
	}
}

// Routes returns a mux with every ops route registered
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ops/sync", h.withSyncer(h.handleSync))
	mux.HandleFunc("GET /ops/sync/status", h.withSyncer(h.handleSyncStatus))
	mux.HandleFunc("POST /ops/sync/reset", h.withSyncer(h.handleSyncReset))
	mux.HandleFunc("POST /ops/sync/force-stop", h.withSyncer(h.handleForceStop))
	mux.HandleFunc("POST /ops/sync/cancel", h.withSyncer(h.handleCancel))
	mux.HandleFunc("POST /ops/detections/{id}/review", h.handleReview)
	mux.HandleFunc("GET /ops/health", h.handleHealth)
	mux.HandleFunc("POST /ops/health/repair", h.handleRepair)
	return mux
}

func (h *Handler) withSyncer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.syncer == nil {
			writeError(w, http.StatusConflict, "sync is only available in polling mode")
			return
		}
		next(w, r)
	}
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncer.Request
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "ops"
	}

	res := h.syncer.Run(r.Context(), req)

	code := http.StatusOK
	switch res.Status {
	case syncer.StatusAlreadyRunning:
		code = http.StatusConflict
	case syncer.StatusBackingOff:
		if d, err := time.ParseDuration(res.RetryAfter); err == nil {
			w.Header().Set("Retry-After", strconv.Itoa(int(d.Seconds())))
		}
		code = http.StatusTooManyRequests
	case syncer.StatusFailed:
		code = http.StatusBadGateway
	}
	writeJSON(w, code, res)
}

func (h *Handler) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	recent := 0
	if v := r.URL.Query().Get("recent"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "recent must be between 0 and 100")
			return
		}
		recent = n
	}

	report, err := h.syncer.Status(r.Context(), recent)
	if err != nil {
		h.fail(w, "sync status", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleSyncReset(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.syncer.ResetErrors())
}

func (h *Handler) handleForceStop(w http.ResponseWriter, r *http.Request) {
	n, err := h.syncer.ForceStop(r.Context())
	if err != nil {
		h.fail(w, "force stop", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		JobID *uuid.UUID `json:"job_id"`
	}
	if err := decodeOptional(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.syncer.RequestCancel(r.Context(), body.JobID)
	if err != nil {
		h.fail(w, "cancel sync", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id.String(), "status": "cancel_requested"})
}

// ReviewRequest is the body of POST /ops/detections/{id}/review
type ReviewRequest struct {
	Approved *bool  `json:"approved"`
	Reviewer string `json:"reviewer"`
}

// ReviewResponse describes a reviewed detection
type ReviewResponse struct {
	ID         uuid.UUID  `json:"id"`
	Status     string     `json:"status"`
	SignalID   *uuid.UUID `json:"signal_id,omitempty"`
	ReviewedBy string     `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid detection id")
		return
	}

	var req ReviewRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Approved == nil {
		writeError(w, http.StatusBadRequest, "approved is required")
		return
	}

	det, err := h.reviewer.ReviewDetection(r.Context(), id, *req.Approved, req.Reviewer)
	if err != nil && det == nil {
		h.fail(w, "review detection", err)
		return
	}

	resp := ReviewResponse{
		ID:         det.ID,
		Status:     string(det.Status),
		SignalID:   det.SignalID,
		ReviewedAt: det.ReviewedAt,
	}
	if det.ReviewedBy != nil {
		resp.ReviewedBy = *det.ReviewedBy
	}
	if err != nil {
		// The review is recorded; only signal creation failed.
		h.log.Errorw("Approved detection without signal", "detection_id", id, "error", err)
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := h.monitor.Check(r.Context())
	w.Header().Set("X-Health-Score", strconv.Itoa(report.Score))
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleRepair(w http.ResponseWriter, r *http.Request) {
	res, err := h.monitor.Repair(r.Context())
	if err != nil {
		h.log.Warnw("Health repair finished with errors", "error", err)
		writeJSON(w, http.StatusMultiStatus, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Errorw("Ops request failed", "op", op, "error", err)
	}
	writeError(w, code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.IsValidation(err), errors.Is(err, errors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrAlreadyReviewed), errors.Is(err, errors.ErrSyncAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, errors.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dest); err != nil {
		return errors.NewValidationError("body", "invalid JSON", err.Error())
	}
	return nil
}

// decodeOptional accepts an empty body
func decodeOptional(r *http.Request, dest interface{}) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dest)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errors.NewValidationError("body", "invalid JSON", err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
