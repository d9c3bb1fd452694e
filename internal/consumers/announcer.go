package consumers

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"callwatch/internal/domain/signal"
	"callwatch/internal/metrics"
	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
)

// ChannelTelegram names the direct delivery channel
const ChannelTelegram = "telegram"

// Sender posts a message into a chat
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// SignalReader loads signals by id
type SignalReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*signal.Signal, error)
}

// Announcer posts new signals to the announce chat
type Announcer struct {
	signals SignalReader
	sender  Sender
	chatID  int64
	log     *logger.Logger
}

var _ signal.Notifier = (*Announcer)(nil)

// NewAnnouncer creates a new announcer. A zero chatID disables delivery.
func NewAnnouncer(signals SignalReader, sender Sender, chatID int64, log *logger.Logger) *Announcer {
	return &Announcer{
		signals: signals,
		sender:  sender,
		chatID:  chatID,
		log:     log.With("component", "signal_announcer"),
	}
}

// Notify announces synchronously; used when Kafka is disabled
func (a *Announcer) Notify(ctx context.Context, signalID uuid.UUID) (signal.Delivery, error) {
	delivered, err := a.Announce(ctx, signalID)
	return signal.Delivery{Delivered: delivered, Channel: ChannelTelegram}, err
}

// Announce loads the signal and posts it. It reports false without error when delivery is disabled.
func (a *Announcer) Announce(ctx context.Context, signalID uuid.UUID) (bool, error) {
	if a.chatID == 0 || a.sender == nil {
		return false, nil
	}

	s, err := a.signals.GetByID(ctx, signalID)
	if err != nil {
		metrics.NotifierCalls.WithLabelValues("error").Inc()
		return false, errors.Wrapf(err, "failed to load signal %s", signalID)
	}

	if err := a.sender.SendMessage(ctx, a.chatID, FormatSignal(s)); err != nil {
		metrics.NotifierCalls.WithLabelValues("error").Inc()
		return false, errors.Wrap(err, "failed to announce signal")
	}

	metrics.NotifierCalls.WithLabelValues("delivered").Inc()
	a.log.Infow("Signal announced",
		"signal_id", s.ID,
		"ticker", s.Ticker,
		"origin", s.Origin,
	)
	return true, nil
}

// FormatSignal renders a signal as a plain text announcement
func FormatSignal(s *signal.Signal) string {
	var b strings.Builder

	icon := "🟢"
	if s.Direction == signal.DirectionShort {
		icon = "🔴"
	}
	fmt.Fprintf(&b, "%s %s %s", icon, strings.ToUpper(s.Direction.String()), s.Ticker)
	if s.Market != "" {
		fmt.Fprintf(&b, " (%s)", s.Market)
	}
	b.WriteString("\n")

	switch {
	case s.EntryPrice.Valid:
		fmt.Fprintf(&b, "Entry: %s (%s)\n", s.EntryPrice.Decimal.String(), s.EntryType)
	case s.EntryType == signal.EntryMarketPending:
		b.WriteString("Entry: market (price pending)\n")
	default:
		b.WriteString("Entry: market\n")
	}

	if s.StopLoss.Valid {
		fmt.Fprintf(&b, "Stop: %s\n", s.StopLoss.Decimal.String())
	}
	if len(s.Targets) > 0 {
		targets := make([]string, len(s.Targets))
		for i, t := range s.Targets {
			targets[i] = t.String()
		}
		fmt.Fprintf(&b, "Targets: %s\n", strings.Join(targets, ", "))
	}
	fmt.Fprintf(&b, "Risk: %s%%\n", s.RiskPercentage.String())

	by := s.AnalystName
	if by == "" {
		by = "unknown"
	}
	fmt.Fprintf(&b, "By: %s | %s", by, s.Origin)
	return b.String()
}
