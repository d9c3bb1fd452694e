package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"callwatch/internal/domain/signal"
	"callwatch/internal/metrics"
	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
)

// Status is the structured outcome of a command
type Status string

const (
	StatusClosed         Status = "closed"
	StatusNothingToClose Status = "nothing_to_close"
	StatusUnauthorized   Status = "unauthorized"
	StatusCreated        Status = "created"
	StatusDuplicate      Status = "duplicate"
	StatusParseError     Status = "parse_error"
)

// Invocation is one command message
type Invocation struct {
	Text            string
	Username        string
	ChatID          int64
	SourceMessageID int64
}

// Result is what the invoker is told. Reply always says why.
type Result struct {
	Command  signal.CallKind
	Status   Status
	Reply    string
	SignalID *uuid.UUID
	Closed   []uuid.UUID
	Owners   []string
}

// Interpreter executes !close and !degen commands
type Interpreter struct {
	signals      signal.Repository
	oracle       signal.PriceOracle
	notifier     signal.Notifier
	superCallers map[string]bool
	log          *logger.Logger
}

// NewInterpreter creates a new interpreter.
// superCallers may close any analyst's signals.
func NewInterpreter(
	signals signal.Repository,
	oracle signal.PriceOracle,
	notifier signal.Notifier,
	superCallers []string,
	log *logger.Logger,
) *Interpreter {
	allowed := make(map[string]bool, len(superCallers))
	for _, name := range superCallers {
		if name = normalizeUsername(name); name != "" {
			allowed[strings.ToLower(name)] = true
		}
	}

	return &Interpreter{
		signals:      signals,
		oracle:       oracle,
		notifier:     notifier,
		superCallers: allowed,
		log:          log.With("component", "command_interpreter"),
	}
}

// Execute parses and runs a command. Store failures are returned as errors;
// every other outcome is a Result.
func (i *Interpreter) Execute(ctx context.Context, inv Invocation) (Result, error) {
	call, ok, err := Parse(inv.Text)
	if !ok {
		return Result{}, errors.NewValidationError("text", "not a command", inv.Text)
	}
	if err != nil {
		res := parseErrorResult(inv.Text, err)
		i.record(res)
		return res, nil
	}

	var res Result
	switch c := call.(type) {
	case signal.CloseCall:
		res, err = i.close(ctx, inv, c)
	case signal.DegenCall:
		res, err = i.degen(ctx, inv, c)
	default:
		return Result{}, errors.Newf("unsupported command kind %s", call.Kind())
	}
	if err != nil {
		return Result{}, err
	}

	i.record(res)
	return res, nil
}

func (i *Interpreter) close(ctx context.Context, inv Invocation, c signal.CloseCall) (Result, error) {
	res := Result{Command: signal.CallClose}

	active, err := i.signals.ActiveByTicker(ctx, c.Ticker)
	if err != nil {
		return res, errors.Wrap(err, "failed to load active signals")
	}
	if len(active) == 0 {
		res.Status = StatusNothingToClose
		res.Reply = fmt.Sprintf("No active signals for %s.", c.Ticker)
		return res, nil
	}

	owners := ownersOf(active)
	invoker := normalizeUsername(inv.Username)

	params := signal.CloseParams{
		Ticker:   c.Ticker,
		ClosedBy: invoker,
		Reason:   "closed via !close",
	}

	switch {
	case invoker != "" && i.superCallers[strings.ToLower(invoker)]:
		// closes every analyst's signals
	case invoker != "" && ownerNamed(owners, invoker) != "":
		owner := ownerNamed(owners, invoker)
		params.Owner = &owner
	default:
		res.Status = StatusUnauthorized
		res.Owners = owners
		res.Reply = fmt.Sprintf("You are not the owner of the active %s signals (owned by %s).",
			c.Ticker, strings.Join(owners, ", "))
		i.log.Infow("Unauthorized close attempt",
			"ticker", c.Ticker,
			"invoker", inv.Username,
			"owners", owners,
		)
		return res, nil
	}

	closed, err := i.signals.CloseActive(ctx, params)
	if err != nil {
		return res, errors.Wrap(err, "failed to close signals")
	}
	if len(closed) == 0 {
		// Closed concurrently between the lookup and the update.
		res.Status = StatusNothingToClose
		res.Reply = fmt.Sprintf("No active signals for %s.", c.Ticker)
		return res, nil
	}

	res.Status = StatusClosed
	res.Closed = closed
	res.Reply = fmt.Sprintf("Closed %d %s signal(s).", len(closed), c.Ticker)

	i.log.Infow("Closed signals",
		"ticker", c.Ticker,
		"invoker", invoker,
		"count", len(closed),
	)
	return res, nil
}

func (i *Interpreter) degen(ctx context.Context, inv Invocation, c signal.DegenCall) (Result, error) {
	res := Result{Command: signal.CallDegen}

	chatID, messageID := inv.ChatID, inv.SourceMessageID
	s := &signal.Signal{
		AnalystName:     normalizeUsername(inv.Username),
		Market:          "crypto",
		Direction:       c.Direction,
		Ticker:          c.Ticker,
		Targets:         signal.Prices(c.Targets),
		RiskPercentage:  c.Risk,
		Description:     strings.TrimSpace(inv.Text),
		Origin:          signal.OriginDegen,
		Status:          signal.StatusActive,
		SourceChatID:    &chatID,
		SourceMessageID: &messageID,
	}
	if c.Stop != nil {
		s.StopLoss = decimal.NewNullDecimal(*c.Stop)
	}

	switch {
	case c.Entry != nil:
		s.EntryType = signal.EntryLimit
		s.EntryPrice = decimal.NewNullDecimal(*c.Entry)
	default:
		price, err := i.currentPrice(ctx, c.Ticker)
		if err != nil {
			s.EntryType = signal.EntryMarketPending
			i.log.Warnw("Price unavailable, degen call stored with pending entry",
				"ticker", c.Ticker,
				"error", err,
			)
		} else {
			s.EntryType = signal.EntryMarket
			s.EntryPrice = decimal.NewNullDecimal(price)
		}
	}

	created, err := i.signals.Create(ctx, s)
	if err != nil {
		return res, errors.Wrap(err, "failed to create signal")
	}
	id := s.ID
	res.SignalID = &id

	if !created {
		res.Status = StatusDuplicate
		res.Reply = fmt.Sprintf("Signal for this message already recorded (%s %s).", strings.ToUpper(s.Direction.String()), s.Ticker)
		return res, nil
	}

	res.Status = StatusCreated
	res.Reply = describeDegen(s, c.Supporting)

	i.log.Infow("Degen signal created",
		"signal_id", s.ID,
		"ticker", s.Ticker,
		"direction", s.Direction,
		"entry_type", s.EntryType,
		"analyst", s.AnalystName,
	)

	i.notify(ctx, s.ID)
	return res, nil
}

func (i *Interpreter) currentPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	if i.oracle == nil {
		return decimal.Zero, errors.ErrPriceUnavailable
	}
	return i.oracle.CurrentPrice(ctx, ticker)
}

func (i *Interpreter) notify(ctx context.Context, id uuid.UUID) {
	if i.notifier == nil {
		return
	}
	if _, err := i.notifier.Notify(ctx, id); err != nil {
		i.log.Warnw("Failed to notify about signal", "signal_id", id, "error", err)
	}
}

func (i *Interpreter) record(res Result) {
	metrics.CommandResults.WithLabelValues(string(res.Command), string(res.Status)).Inc()
}

func parseErrorResult(text string, err error) Result {
	res := Result{Status: StatusParseError}
	usage := DegenUsage
	if cmd, _ := commandOf(text); cmd == prefixClose {
		usage = CloseUsage
		res.Command = signal.CallClose
	} else {
		res.Command = signal.CallDegen
	}

	reason := err.Error()
	var ve *errors.ValidationError
	if errors.As(err, &ve) {
		reason = fmt.Sprintf("%s: %s", ve.Field, ve.Message)
	}
	res.Reply = fmt.Sprintf("Could not parse command (%s).\n%s", reason, usage)
	return res
}

func describeDegen(s *signal.Signal, supporting bool) string {
	var b strings.Builder
	if supporting {
		b.WriteString("Supporting ")
	}
	fmt.Fprintf(&b, "%s %s recorded", strings.ToUpper(s.Direction.String()), s.Ticker)

	switch {
	case s.EntryPrice.Valid:
		fmt.Fprintf(&b, ", entry %s", s.EntryPrice.Decimal.String())
	default:
		b.WriteString(", entry pending (price unavailable)")
	}
	if s.StopLoss.Valid {
		fmt.Fprintf(&b, ", stop %s", s.StopLoss.Decimal.String())
	}
	if len(s.Targets) > 0 {
		parts := make([]string, len(s.Targets))
		for i, t := range s.Targets {
			parts[i] = t.String()
		}
		fmt.Fprintf(&b, ", targets %s", strings.Join(parts, ","))
	}
	fmt.Fprintf(&b, ", risk %s%%.", s.RiskPercentage.String())
	return b.String()
}

func ownersOf(active []*signal.Signal) []string {
	seen := make(map[string]bool)
	owners := make([]string, 0, len(active))
	for _, s := range active {
		if !seen[s.AnalystName] {
			seen[s.AnalystName] = true
			owners = append(owners, s.AnalystName)
		}
	}
	sort.Strings(owners)
	return owners
}

// ownerNamed returns the stored spelling of name. Telegram usernames are
// case-insensitive.
func ownerNamed(owners []string, name string) string {
	for _, o := range owners {
		if strings.EqualFold(o, name) {
			return o
		}
	}
	return ""
}

func normalizeUsername(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), "@")
}
