package kafka

import (
	"time"

	"github.com/google/uuid"
)

// Topic definitions
const (
	TopicSignalsCreated = "signals.created"
)

// SignalCreated is published once per newly stored signal
type SignalCreated struct {
	SignalID   uuid.UUID `json:"signal_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
