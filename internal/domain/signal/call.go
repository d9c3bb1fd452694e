package signal

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/shopspring/decimal"

	"callwatch/pkg/errors"
)

// CallKind discriminates the Call variants
type CallKind string

const (
	CallClose    CallKind = "close"
	CallDegen    CallKind = "degen"
	CallDetected CallKind = "detected"
)

// Call is the typed payload behind a signal mutation.
// The set of variants is closed: CloseCall, DegenCall, DetectedCall.
type Call interface {
	Kind() CallKind
	call()
}

// CloseCall asks to close active signals of a ticker
type CloseCall struct {
	Ticker string
}

func (CloseCall) Kind() CallKind { return CallClose }
func (CloseCall) call()          {}

// DegenCall is a manually issued signal; direction is always explicit
type DegenCall struct {
	Supporting bool
	Direction  Direction
	Ticker     string
	Entry      *decimal.Decimal
	Stop       *decimal.Decimal
	Targets    []decimal.Decimal
	Risk       decimal.Decimal
}

func (DegenCall) Kind() CallKind { return CallDegen }
func (DegenCall) call()          {}

// DetectedCall holds fields extracted from free text by a pattern
type DetectedCall struct {
	Ticker            string            `json:"ticker,omitempty"`
	Market            string            `json:"market,omitempty"`
	Direction         Direction         `json:"direction,omitempty"`
	DirectionInferred bool              `json:"direction_inferred,omitempty"`
	EntryType         EntryType         `json:"entry_type,omitempty"`
	Entry             *decimal.Decimal  `json:"entry,omitempty"`
	Stop              *decimal.Decimal  `json:"stop,omitempty"`
	Targets           []decimal.Decimal `json:"targets,omitempty"`
	Risk              *decimal.Decimal  `json:"risk,omitempty"`
	Matched           string            `json:"matched,omitempty"`
}

func (DetectedCall) Kind() CallKind { return CallDetected }
func (DetectedCall) call()          {}

// Value implements driver.Valuer (JSONB)
func (c DetectedCall) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner (JSONB)
func (c *DetectedCall) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		*c = DetectedCall{}
		return nil
	default:
		return errors.Newf("detected call: unsupported scan type %T", src)
	}
	return json.Unmarshal(raw, c)
}
