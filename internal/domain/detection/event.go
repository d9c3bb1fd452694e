package detection

import "time"

// Outcome classifies one detection attempt
type Outcome string

const (
	OutcomeDetected       Outcome = "detected"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeBelowThreshold Outcome = "below_threshold"
	OutcomeNoMatch        Outcome = "no_match"
)

// Event is the analytics record of a detection attempt
type Event struct {
	EventTime       time.Time
	ChatID          int64
	SourceMessageID int64
	AnalystID       string
	PatternID       string
	Outcome         Outcome
	Confidence      float64
	MinConfidence   float64
	Ticker          string
	PatternsTested  int
	Latency         time.Duration
}
