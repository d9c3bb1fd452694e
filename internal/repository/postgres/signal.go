package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"callwatch/internal/domain/signal"
	"callwatch/pkg/errors"
)

// Compile-time check
var _ signal.Repository = (*SignalRepository)(nil)

// SignalRepository implements signal.Repository using sqlx
type SignalRepository struct {
	db DBTX
}

// NewSignalRepository creates a new signal repository
func NewSignalRepository(db DBTX) *SignalRepository {
	return &SignalRepository{db: db}
}

const signalColumns = `
	id, analyst_id, analyst_name, market, direction, ticker,
	entry_type, entry_price, stop_loss, targets, risk_percentage, description,
	origin, status, closed_by, close_reason, closed_at,
	source_chat_id, source_message_id, detection_id, created_at, updated_at`

// Create inserts a signal, at most one per source message
func (r *SignalRepository) Create(ctx context.Context, s *signal.Signal) (bool, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = signal.StatusActive
	}
	if s.Targets == nil {
		s.Targets = signal.Prices{}
	}

	query := `
		INSERT INTO analyst_signals (
			id, analyst_id, analyst_name, market, direction, ticker,
			entry_type, entry_price, stop_loss, targets, risk_percentage, description,
			origin, status, source_chat_id, source_message_id, detection_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
		ON CONFLICT (source_chat_id, source_message_id) WHERE source_message_id IS NOT NULL DO NOTHING
		RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		s.ID, s.AnalystID, s.AnalystName, s.Market, s.Direction, s.Ticker,
		s.EntryType, s.EntryPrice, s.StopLoss, s.Targets, s.RiskPercentage, s.Description,
		s.Origin, s.Status, s.SourceChatID, s.SourceMessageID, s.DetectionID,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err == nil {
		return true, nil
	}
	if err != sql.ErrNoRows {
		return false, err
	}

	// Conflict: hand back the signal that already owns this source message
	existing := signal.Signal{}
	err = r.db.GetContext(ctx, &existing,
		`SELECT `+signalColumns+` FROM analyst_signals
		 WHERE source_chat_id = $1 AND source_message_id = $2`,
		s.SourceChatID, s.SourceMessageID,
	)
	if err != nil {
		return false, errors.Wrap(err, "load existing signal")
	}
	*s = existing
	return false, nil
}

// GetByID retrieves a signal by ID
func (r *SignalRepository) GetByID(ctx context.Context, id uuid.UUID) (*signal.Signal, error) {
	var s signal.Signal
	err := r.db.GetContext(ctx, &s, `SELECT `+signalColumns+` FROM analyst_signals WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ActiveByTicker lists active signals for a ticker, oldest first
func (r *SignalRepository) ActiveByTicker(ctx context.Context, ticker string) ([]*signal.Signal, error) {
	var signals []*signal.Signal
	err := r.db.SelectContext(ctx, &signals,
		`SELECT `+signalColumns+` FROM analyst_signals
		 WHERE ticker = $1 AND status = 'active'
		 ORDER BY created_at`,
		ticker,
	)
	return signals, err
}

// CloseActive closes matching active signals atomically and returns their ids
func (r *SignalRepository) CloseActive(ctx context.Context, p signal.CloseParams) ([]uuid.UUID, error) {
	query := `
		UPDATE analyst_signals SET
			status = 'closed',
			closed_by = $3,
			close_reason = $4,
			closed_at = NOW(),
			updated_at = NOW()
		WHERE ticker = $1 AND status = 'active'
			AND ($2::text IS NULL OR analyst_name = $2)
		RETURNING id`

	rows, err := r.db.QueryContext(ctx, query, p.Ticker, p.Owner, p.ClosedBy, p.Reason)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
