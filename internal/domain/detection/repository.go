package detection

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for detection rules and results
type Repository interface {
	ChannelConfig(ctx context.Context, chatID int64) (*ChannelConfig, error)
	ActivePatterns(ctx context.Context, analystID uuid.UUID) ([]*Pattern, error)

	// Create stores one detection per message; on conflict the existing row is loaded into d
	Create(ctx context.Context, d *Detection) (created bool, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*Detection, error)

	LinkSignal(ctx context.Context, id, signalID uuid.UUID, status Status) error

	// MarkReviewed moves a pending detection to a terminal status.
	// Returns false when it was already reviewed.
	MarkReviewed(ctx context.Context, id uuid.UUID, status Status, reviewer string, at time.Time) (bool, error)
}
