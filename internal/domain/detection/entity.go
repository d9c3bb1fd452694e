package detection

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"callwatch/internal/domain/signal"
	"callwatch/pkg/errors"
)

// AutoApproveConfidence is the score at which a detection skips review
const AutoApproveConfidence = 0.9

// ChannelConfig holds per-chat detection settings
type ChannelConfig struct {
	ChatID            int64     `db:"chat_id"`
	MonitoringEnabled bool      `db:"monitoring_enabled"`
	AnalystID         uuid.UUID `db:"analyst_id"`
	AnalystName       string    `db:"analyst_name"`
	AutoProcess       bool      `db:"auto_process"`
	MinConfidence     float64   `db:"min_confidence"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// RequiresReview is false iff the channel auto-processes or the score is high enough
func (c *ChannelConfig) RequiresReview(confidence float64) bool {
	return !(c.AutoProcess || confidence >= AutoApproveConfidence)
}

// Pattern is one configured detection rule
type Pattern struct {
	ID         uuid.UUID  `db:"id"`
	AnalystID  uuid.UUID  `db:"analyst_id"`
	Name       string     `db:"name"`
	Regex      string     `db:"regex"`
	Extraction Extraction `db:"extraction"`
	Priority   int        `db:"priority"`
	IsActive   bool       `db:"is_active"`
	CreatedAt  time.Time  `db:"created_at"`
}

// Extraction maps regex capture groups to call fields.
// Empty group names fall back to the standard names (ticker, direction, entry, ...).
type Extraction struct {
	TickerGroup    string `json:"ticker_group,omitempty"`
	DirectionGroup string `json:"direction_group,omitempty"`
	EntryGroup     string `json:"entry_group,omitempty"`
	StopGroup      string `json:"stop_group,omitempty"`
	TargetsGroup   string `json:"targets_group,omitempty"`
	RiskGroup      string `json:"risk_group,omitempty"`
	MarketGroup    string `json:"market_group,omitempty"`

	DefaultMarket    string `json:"default_market,omitempty"`
	DefaultDirection string `json:"default_direction,omitempty"`
	InferDirection   *bool  `json:"infer_direction,omitempty"` // nil means enabled
}

// Value implements driver.Valuer (JSONB)
func (e Extraction) Value() (driver.Value, error) {
	return json.Marshal(e)
}

// Scan implements sql.Scanner (JSONB)
func (e *Extraction) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, e)
	case string:
		return json.Unmarshal([]byte(v), e)
	case nil:
		*e = Extraction{}
		return nil
	}
	return errors.Newf("extraction: unsupported scan type %T", src)
}

// Status defines detection review status
type Status string

const (
	StatusPending       Status = "pending"
	StatusAutoProcessed Status = "auto_processed"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
)

// Terminal reports whether no further review is possible
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusAutoProcessed
}

// String returns string representation
func (s Status) String() string {
	return string(s)
}

// Detection is the result of testing one message against the best matching pattern
type Detection struct {
	ID              uuid.UUID           `db:"id"`
	ChatID          int64               `db:"chat_id"`
	SourceMessageID int64               `db:"source_message_id"`
	PatternID       uuid.UUID           `db:"pattern_id"`
	AnalystID       uuid.UUID           `db:"analyst_id"`
	Extracted       signal.DetectedCall `db:"extracted"`
	Confidence      float64             `db:"confidence"`
	RequiresReview  bool                `db:"requires_review"`
	Status          Status              `db:"status"`
	SignalID        *uuid.UUID          `db:"signal_id"`
	AutoProcessed   bool                `db:"auto_processed"`
	ReviewedBy      *string             `db:"reviewed_by"`
	ReviewedAt      *time.Time          `db:"reviewed_at"`
	CreatedAt       time.Time           `db:"created_at"`
}
