package pipeline

import (
	"context"

	"callwatch/internal/domain/detection"
	"callwatch/internal/domain/message"
	"callwatch/internal/metrics"
	"callwatch/internal/services/commands"
	"callwatch/internal/services/detector"
	"callwatch/internal/services/ingest"
	"callwatch/internal/services/normalizer"
	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
)

// Normalizer converts inbound payloads to messages
type Normalizer interface {
	Normalize(in normalizer.Inbound) (*message.Message, error)
}

// Ingestor stores messages once
type Ingestor interface {
	Ingest(ctx context.Context, m *message.Message) (ingest.Result, error)
}

// CommandExecutor runs chat commands
type CommandExecutor interface {
	Execute(ctx context.Context, inv commands.Invocation) (commands.Result, error)
}

// CallDetector looks for analyst calls in free text
type CallDetector interface {
	Detect(ctx context.Context, in detector.Input) (*detection.Detection, error)
}

// Replier answers a command in its chat
type Replier interface {
	Reply(ctx context.Context, chatID, replyToMessageID int64, text string) error
}

// Outcome summarizes the handling of one inbound payload
type Outcome struct {
	Message   *message.Message
	Ingest    ingest.Result
	Command   *commands.Result
	Detection *detection.Detection
}

// Pipeline runs normalize, ingest, then command or detection
type Pipeline struct {
	normalizer Normalizer
	ingestor   Ingestor
	commands   CommandExecutor
	detector   CallDetector
	replier    Replier
	log        *logger.Logger
}

// New creates a new pipeline. replier may be nil.
func New(n Normalizer, i Ingestor, c CommandExecutor, d CallDetector, r Replier, log *logger.Logger) *Pipeline {
	return &Pipeline{
		normalizer: n,
		ingestor:   i,
		commands:   c,
		detector:   d,
		replier:    r,
		log:        log.With("component", "pipeline"),
	}
}

// Handle processes one inbound payload.
// Normalization errors (*errors.ValidationError, errors.ErrNotIngestible) and
// *errors.IngestError are returned unchanged so callers can map them.
func (p *Pipeline) Handle(ctx context.Context, in normalizer.Inbound) (Outcome, error) {
	m, err := p.normalizer.Normalize(in)
	if err != nil {
		metrics.IngestResults.WithLabelValues("skipped").Inc()
		return Outcome{}, err
	}

	res, err := p.ingestor.Ingest(ctx, m)
	if err != nil {
		return Outcome{Message: m}, err
	}

	// A redelivered message runs again: the earlier attempt may have stored
	// the message and failed afterwards. Commands and detection are
	// idempotent per source message.
	out := Outcome{Message: m, Ingest: res}

	text := m.Text()
	if text == "" {
		return out, nil
	}

	// Commands take precedence and never reach the detector.
	if commands.IsCommand(text) {
		cmd, err := p.commands.Execute(ctx, commands.Invocation{
			Text:            text,
			Username:        m.SenderUsername,
			ChatID:          m.ChatID,
			SourceMessageID: m.SourceMessageID,
		})
		if err != nil {
			return out, errors.Wrap(err, "failed to execute command")
		}
		out.Command = &cmd
		if res.Inserted || changedState(cmd.Status) {
			p.reply(ctx, m, cmd)
		}
		return out, nil
	}

	det, err := p.detector.Detect(ctx, detector.Input{
		Text:            text,
		ChatID:          m.ChatID,
		SourceMessageID: m.SourceMessageID,
		Username:        m.SenderUsername,
	})
	if err != nil {
		return out, errors.Wrap(err, "failed to run call detection")
	}
	out.Detection = det
	return out, nil
}

// changedState reports whether a command did work. Only those results are
// answered on redelivery since the first attempt already replied otherwise.
func changedState(s commands.Status) bool {
	return s == commands.StatusCreated || s == commands.StatusClosed
}

func (p *Pipeline) reply(ctx context.Context, m *message.Message, res commands.Result) {
	if p.replier == nil || res.Reply == "" {
		return
	}
	if err := p.replier.Reply(ctx, m.ChatID, m.SourceMessageID, res.Reply); err != nil {
		p.log.Warnw("Failed to reply to command",
			"chat_id", m.ChatID,
			"source_message_id", m.SourceMessageID,
			"status", res.Status,
			"error", err,
		)
	}
}
