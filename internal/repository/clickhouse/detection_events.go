package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"callwatch/internal/adapters/config"
	"callwatch/internal/domain/detection"
	"callwatch/pkg/clickhouse"
	"callwatch/pkg/errors"
)

// DetectionEventRepository archives detection attempts in ClickHouse.
// Writes are buffered through a BatchWriter; Record never blocks on the network
// unless the buffer is full.
type DetectionEventRepository struct {
	conn  driver.Conn
	batch *clickhouse.BatchWriter[detection.Event]
}

// NewDetectionEventRepository creates the repository and its batch writer
func NewDetectionEventRepository(conn driver.Conn, cfg config.ClickHouseConfig) *DetectionEventRepository {
	repo := &DetectionEventRepository{conn: conn}
	repo.batch = clickhouse.NewBatchWriter(clickhouse.BatchWriterConfig[detection.Event]{
		FlushFunc:    repo.flushBatch,
		TableName:    "detection_events",
		MaxBatchSize: cfg.BatchSize,
		MaxAge:       cfg.FlushInterval,
	})
	return repo
}

// Start begins the background flush loop
func (r *DetectionEventRepository) Start(ctx context.Context) {
	r.batch.Start(ctx)
}

// Stop flushes buffered events
func (r *DetectionEventRepository) Stop(ctx context.Context) error {
	return r.batch.Stop(ctx)
}

// Record buffers one event
func (r *DetectionEventRepository) Record(ctx context.Context, ev detection.Event) error {
	if ev.EventTime.IsZero() {
		ev.EventTime = time.Now().UTC()
	}
	return r.batch.Add(ctx, ev)
}

func (r *DetectionEventRepository) flushBatch(ctx context.Context, events []detection.Event) error {
	b, err := r.conn.PrepareBatch(ctx, `
		INSERT INTO detection_events (
			event_time, chat_id, source_message_id, analyst_id, pattern_id,
			outcome, confidence, min_confidence, ticker, patterns_tested, latency_ms
		)`)
	if err != nil {
		return errors.Wrap(err, "prepare detection_events batch")
	}

	for _, ev := range events {
		err := b.Append(
			ev.EventTime,
			ev.ChatID,
			ev.SourceMessageID,
			ev.AnalystID,
			ev.PatternID,
			string(ev.Outcome),
			ev.Confidence,
			ev.MinConfidence,
			ev.Ticker,
			uint16(ev.PatternsTested),
			uint32(ev.Latency.Milliseconds()),
		)
		if err != nil {
			_ = b.Abort()
			return errors.Wrap(err, "append detection event")
		}
	}

	if err := b.Send(); err != nil {
		return errors.Wrap(err, "send detection_events batch")
	}
	return nil
}

// OutcomeCount is one row of the outcome breakdown
type OutcomeCount struct {
	Outcome string `ch:"outcome"`
	Count   uint64 `ch:"cnt"`
}

// OutcomesSince aggregates detection outcomes for a chat
func (r *DetectionEventRepository) OutcomesSince(ctx context.Context, chatID int64, since time.Time) ([]OutcomeCount, error) {
	var rows []OutcomeCount
	err := r.conn.Select(ctx, &rows, `
		SELECT outcome, count() AS cnt
		FROM detection_events
		WHERE chat_id = ? AND event_time >= ?
		GROUP BY outcome
		ORDER BY cnt DESC`,
		chatID, since,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query detection outcomes")
	}
	return rows, nil
}
