package signal

import (
	"context"

	"github.com/google/uuid"
)

// CloseParams selects and stamps the signals closed by one command
type CloseParams struct {
	Ticker   string
	Owner    *string // nil closes every active signal of the ticker
	ClosedBy string
	Reason   string
}

// Repository defines the interface for signal persistence
type Repository interface {
	// Create inserts the signal unless one already exists for its source message.
	// On conflict the existing row is loaded into s and created is false.
	Create(ctx context.Context, s *Signal) (created bool, err error)

	GetByID(ctx context.Context, id uuid.UUID) (*Signal, error)
	ActiveByTicker(ctx context.Context, ticker string) ([]*Signal, error)

	// CloseActive closes the matching active signals in a single statement
	CloseActive(ctx context.Context, p CloseParams) ([]uuid.UUID, error)
}
