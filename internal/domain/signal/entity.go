package signal

import (
	"database/sql/driver"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"callwatch/pkg/errors"
)

// Signal is a structured trading instruction attributed to an analyst
type Signal struct {
	ID          uuid.UUID  `db:"id"`
	AnalystID   *uuid.UUID `db:"analyst_id"`
	AnalystName string     `db:"analyst_name"`

	Market    string    `db:"market"`
	Direction Direction `db:"direction"`
	Ticker    string    `db:"ticker"`

	EntryType      EntryType           `db:"entry_type"`
	EntryPrice     decimal.NullDecimal `db:"entry_price"` // null while market entry is pending
	StopLoss       decimal.NullDecimal `db:"stop_loss"`
	Targets        Prices              `db:"targets"`
	RiskPercentage decimal.Decimal     `db:"risk_percentage"`
	Description    string              `db:"description"`

	Origin Origin `db:"origin"`
	Status Status `db:"status"`

	ClosedBy    *string    `db:"closed_by"`
	CloseReason *string    `db:"close_reason"`
	ClosedAt    *time.Time `db:"closed_at"`

	SourceChatID    *int64     `db:"source_chat_id"`
	SourceMessageID *int64     `db:"source_message_id"`
	DetectionID     *uuid.UUID `db:"detection_id"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// NormalizeTicker uppercases a ticker and strips a leading cashtag
func NormalizeTicker(raw string) string {
	return strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(raw), "$"))
}

// Direction defines long or short
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// ParseDirection maps free text (long, buy, short, sell) to a direction
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy", "bull", "bullish":
		return DirectionLong, true
	case "short", "sell", "bear", "bearish":
		return DirectionShort, true
	}
	return "", false
}

// Valid checks if direction is valid
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// String returns string representation
func (d Direction) String() string {
	return string(d)
}

// EntryType describes how the entry price was obtained
type EntryType string

const (
	EntryLimit         EntryType = "limit"
	EntryMarket        EntryType = "market"
	EntryMarketPending EntryType = "market_pending"
)

// String returns string representation
func (e EntryType) String() string {
	return string(e)
}

// Origin records which path created the signal
type Origin string

const (
	OriginDegen    Origin = "degen"
	OriginDetected Origin = "detected"
	OriginManual   Origin = "manual"
)

// Status defines signal lifecycle status
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// String returns string representation
func (s Status) String() string {
	return string(s)
}

// Prices is an ordered NUMERIC[] column
type Prices []decimal.Decimal

// Value implements driver.Valuer
func (p Prices) Value() (driver.Value, error) {
	arr := make(pq.StringArray, len(p))
	for i, d := range p {
		arr[i] = d.String()
	}
	return arr.Value()
}

// Scan implements sql.Scanner
func (p *Prices) Scan(src interface{}) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return errors.Wrap(err, "scan prices")
	}
	out := make(Prices, 0, len(arr))
	for _, s := range arr {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return errors.Wrapf(err, "parse price %q", s)
		}
		out = append(out, d)
	}
	*p = out
	return nil
}
