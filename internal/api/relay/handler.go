package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"callwatch/internal/services/normalizer"
	"callwatch/internal/services/pipeline"
	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
)

const (
	maxBodyBytes = 1 << 20
	maxBatch     = 100
)

// Pipeline runs one inbound payload through normalize, ingest and detection
type Pipeline interface {
	Handle(ctx context.Context, in normalizer.Inbound) (pipeline.Outcome, error)
}

// Result reports what happened to one relayed message
type Result struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Status    string `json:"status"` // inserted|duplicate|skipped|invalid|error
	ID        int64  `json:"id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Response is the relay endpoint reply
type Response struct {
	Results []Result `json:"results"`
}

// Handler accepts messages forwarded by an external relay bot.
// The body is a single message object or an array of them.
type Handler struct {
	pipeline Pipeline
	timeout  time.Duration
	log      *logger.Logger
}

// NewHandler creates a new relay handler
func NewHandler(p Pipeline, timeout time.Duration, log *logger.Logger) *Handler {
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	return &Handler{
		pipeline: p,
		timeout:  timeout,
		log:      log.With("component", "relay"),
	}
}

// ServeHTTP handles POST /relay/messages
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	msgs, err := decode(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := Response{Results: make([]Result, 0, len(msgs))}
	code := http.StatusOK
	invalid := 0
	for _, m := range msgs {
		res := h.handle(ctx, m)
		switch res.Status {
		case "error":
			code = http.StatusInternalServerError
		case "invalid":
			invalid++
		}
		resp.Results = append(resp.Results, res)
	}
	if code == http.StatusOK && invalid == len(msgs) {
		code = http.StatusBadRequest
	}

	writeJSON(w, code, resp)
}

func (h *Handler) handle(ctx context.Context, m normalizer.RelayedMessage) Result {
	res := Result{ChatID: m.ChatID, MessageID: m.MessageID}

	out, err := h.pipeline.Handle(ctx, m)
	switch {
	case err == nil:
		res.ID = out.Ingest.ID
		res.Status = "duplicate"
		if out.Ingest.Inserted {
			res.Status = "inserted"
		}
	case errors.IsValidation(err):
		res.Status = "invalid"
		res.Error = err.Error()
	case errors.Is(err, errors.ErrNotIngestible):
		res.Status = "skipped"
	case errors.IsIngest(err):
		h.log.Errorw("Failed to store relayed message",
			"chat_id", m.ChatID,
			"message_id", m.MessageID,
			"error", err,
		)
		res.Status = "error"
		res.Error = err.Error()
	default:
		// Stored; only the follow-up step failed.
		h.log.Warnw("Relayed message post-processing failed",
			"chat_id", m.ChatID,
			"message_id", m.MessageID,
			"error", err,
		)
		res.ID = out.Ingest.ID
		res.Status = "inserted"
		res.Error = err.Error()
	}
	return res
}

func decode(body io.Reader) ([]normalizer.RelayedMessage, error) {
	raw, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.NewValidationError("body", "empty body", nil)
	}

	if raw[0] != '[' {
		var m normalizer.RelayedMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, errors.NewValidationError("body", "invalid JSON", err.Error())
		}
		return []normalizer.RelayedMessage{m}, nil
	}

	var msgs []normalizer.RelayedMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, errors.NewValidationError("body", "invalid JSON", err.Error())
	}
	if len(msgs) == 0 {
		return nil, errors.NewValidationError("body", "empty batch", nil)
	}
	if len(msgs) > maxBatch {
		return nil, errors.NewValidationError("body", "batch too large", len(msgs))
	}
	return msgs, nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
