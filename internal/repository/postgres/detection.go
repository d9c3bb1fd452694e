package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"callwatch/internal/domain/detection"
	"callwatch/pkg/errors"
)

// Compile-time check
var _ detection.Repository = (*DetectionRepository)(nil)

// DetectionRepository implements detection.Repository using sqlx
type DetectionRepository struct {
	db DBTX
}

// NewDetectionRepository creates a new detection repository
func NewDetectionRepository(db DBTX) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// ChannelConfig retrieves the detection settings of a chat
func (r *DetectionRepository) ChannelConfig(ctx context.Context, chatID int64) (*detection.ChannelConfig, error) {
	var cfg detection.ChannelConfig
	err := r.db.GetContext(ctx, &cfg, `SELECT * FROM channel_configs WHERE chat_id = $1`, chatID)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ActivePatterns returns the analyst's active patterns, highest priority first
func (r *DetectionRepository) ActivePatterns(ctx context.Context, analystID uuid.UUID) ([]*detection.Pattern, error) {
	var patterns []*detection.Pattern
	err := r.db.SelectContext(ctx, &patterns,
		`SELECT * FROM call_patterns
		 WHERE analyst_id = $1 AND is_active
		 ORDER BY priority DESC, created_at`,
		analystID,
	)
	return patterns, err
}

// Create inserts a detection unless the message already has one
func (r *DetectionRepository) Create(ctx context.Context, d *detection.Detection) (bool, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = detection.StatusPending
	}

	query := `
		INSERT INTO call_detections (
			id, chat_id, source_message_id, pattern_id, analyst_id,
			extracted, confidence, requires_review, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (chat_id, source_message_id) DO NOTHING
		RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query,
		d.ID, d.ChatID, d.SourceMessageID, d.PatternID, d.AnalystID,
		d.Extracted, d.Confidence, d.RequiresReview, d.Status,
	).Scan(&d.CreatedAt)
	if err == nil {
		return true, nil
	}
	if err != sql.ErrNoRows {
		return false, err
	}

	var existing detection.Detection
	err = r.db.GetContext(ctx, &existing,
		`SELECT * FROM call_detections WHERE chat_id = $1 AND source_message_id = $2`,
		d.ChatID, d.SourceMessageID,
	)
	if err != nil {
		return false, errors.Wrap(err, "load existing detection")
	}
	*d = existing
	return false, nil
}

// GetByID retrieves a detection by ID
func (r *DetectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*detection.Detection, error) {
	var d detection.Detection
	err := r.db.GetContext(ctx, &d, `SELECT * FROM call_detections WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// LinkSignal attaches the produced signal; the first link wins
func (r *DetectionRepository) LinkSignal(ctx context.Context, id, signalID uuid.UUID, status detection.Status) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE call_detections SET
			signal_id = COALESCE(signal_id, $2),
			status = CASE WHEN status = 'pending' THEN $3::text ELSE status END,
			auto_processed = auto_processed OR $3::text = 'auto_processed'
		 WHERE id = $1`,
		id, signalID, status,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// MarkReviewed records a human decision on a pending detection
func (r *DetectionRepository) MarkReviewed(ctx context.Context, id uuid.UUID, status detection.Status, reviewer string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE call_detections SET status = $2, reviewed_by = $3, reviewed_at = $4
		 WHERE id = $1 AND status = 'pending'`,
		id, status, reviewer, at,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
