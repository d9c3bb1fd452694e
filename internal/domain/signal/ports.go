package signal

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Delivery reports whether a notification left the process
type Delivery struct {
	Delivered bool
	Channel   string
}

// Notifier announces newly created signals. A failed notification never
// rolls back the signal.
type Notifier interface {
	Notify(ctx context.Context, signalID uuid.UUID) (Delivery, error)
}

// PriceOracle returns the current market price of a ticker.
// errors.ErrPriceUnavailable when no price can be obtained.
type PriceOracle interface {
	CurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
}
