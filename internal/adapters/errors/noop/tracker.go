package noop

import (
	"context"

	"callwatch/pkg/errors"
)

// Tracker discards everything; used when SENTRY_DSN is unset and in tests
type Tracker struct{}

var _ errors.Tracker = (*Tracker)(nil)

// New creates a new no-op tracker
func New() *Tracker {
	return &Tracker{}
}

func (t *Tracker) CaptureError(context.Context, error, map[string]string) error { return nil }

func (t *Tracker) CaptureMessage(context.Context, string, errors.Level, map[string]string) error {
	return nil
}

func (t *Tracker) Flush(context.Context) error { return nil }
