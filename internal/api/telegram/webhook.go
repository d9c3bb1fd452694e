package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"callwatch/internal/services/normalizer"
	"callwatch/internal/services/pipeline"
	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
	"callwatch/pkg/telegram"
)

// DefaultProcessTimeout bounds pipeline work per webhook request
const DefaultProcessTimeout = 25 * time.Second

// Handler runs one inbound payload through the pipeline
type Handler interface {
	Handle(ctx context.Context, in normalizer.Inbound) (pipeline.Outcome, error)
}

// Response is the webhook reply body
type Response struct {
	OK       bool   `json:"ok"`
	Status   string `json:"status"`
	Inserted bool   `json:"inserted,omitempty"`
	Error    string `json:"error,omitempty"`
}

// WebhookHandler accepts Telegram webhook updates.
// Telegram retries on 5xx, so only storage failures are reported as such.
type WebhookHandler struct {
	pipeline Handler
	secret   string
	timeout  time.Duration
	log      *logger.Logger
}

// NewWebhookHandler creates a new Telegram webhook handler. An empty secret disables the header check.
func NewWebhookHandler(p Handler, secret string, timeout time.Duration, log *logger.Logger) *WebhookHandler {
	if timeout <= 0 {
		timeout = DefaultProcessTimeout
	}
	return &WebhookHandler{
		pipeline: p,
		secret:   secret,
		timeout:  timeout,
		log:      log.With("component", "telegram_webhook"),
	}
}

// ServeHTTP handles incoming webhook requests from Telegram
func (wh *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, Response{Status: "method_not_allowed"})
		return
	}

	update, err := telegram.DecodeUpdate(r, wh.secret)
	switch {
	case errors.Is(err, telegram.ErrBadSecret):
		wh.log.Warnw("Rejected webhook with bad secret", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, Response{Status: "unauthorized"})
		return
	case err != nil:
		writeJSON(w, http.StatusBadRequest, Response{Status: "invalid", Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), wh.timeout)
	defer cancel()

	out, err := wh.pipeline.Handle(ctx, normalizer.WebhookUpdate{Update: update})
	switch {
	case err == nil:
		status := "duplicate"
		if out.Ingest.Inserted {
			status = "processed"
		}
		writeJSON(w, http.StatusOK, Response{OK: true, Status: status, Inserted: out.Ingest.Inserted})
	case errors.IsValidation(err) || errors.Is(err, errors.ErrNotIngestible):
		wh.log.Debugw("Skipped webhook update", "update_id", update.UpdateID, "reason", err)
		writeJSON(w, http.StatusOK, Response{OK: true, Status: "skipped"})
	case errors.IsIngest(err):
		wh.log.Errorw("Failed to store webhook update", "update_id", update.UpdateID, "error", err)
		writeJSON(w, http.StatusInternalServerError, Response{Status: "ingest_error", Error: err.Error()})
	default:
		// The message is stored. A non-2xx makes Telegram redeliver, and the
		// redelivery reruns the failed step.
		wh.log.Errorw("Webhook post-processing failed", "update_id", update.UpdateID, "error", err)
		writeJSON(w, http.StatusInternalServerError, Response{Status: "processed_with_errors", Inserted: out.Ingest.Inserted, Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
