package detector

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"callwatch/internal/domain/detection"
	"callwatch/internal/domain/signal"
	"callwatch/internal/metrics"
	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
)

// Defaults applied when a detection is turned into a signal
const (
	DefaultMarket    = "crypto"
	DefaultDirection = signal.DirectionLong
	DefaultEntryType = signal.EntryMarket
)

// DefaultRisk is the risk percentage of a detected call that names none
var DefaultRisk = decimal.NewFromInt(2)

// EventRecorder archives detection attempts for analytics
type EventRecorder interface {
	Record(ctx context.Context, ev detection.Event) error
}

// Input is one message to test
type Input struct {
	Text            string
	ChatID          int64
	SourceMessageID int64
	Username        string
}

// Detector finds analyst calls in free text and turns them into signals
type Detector struct {
	detections detection.Repository
	signals    signal.Repository
	notifier   signal.Notifier
	events     EventRecorder
	log        *logger.Logger
	now        func() time.Time

	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp // key: pattern id + regex text
}

// NewDetector creates a new detector. notifier and events may be nil.
func NewDetector(
	detections detection.Repository,
	signals signal.Repository,
	notifier signal.Notifier,
	events EventRecorder,
	log *logger.Logger,
) *Detector {
	return &Detector{
		detections: detections,
		signals:    signals,
		notifier:   notifier,
		events:     events,
		log:        log.With("component", "call_detector"),
		now:        time.Now,
		compiled:   make(map[string]*regexp.Regexp),
	}
}

type candidate struct {
	pattern *detection.Pattern
	call    signal.DetectedCall
	score   float64
}

// Detect tests text against the channel's patterns. It returns nil when the
// channel is not monitored or no match reaches the channel threshold.
func (d *Detector) Detect(ctx context.Context, in Input) (*detection.Detection, error) {
	started := d.now()

	cfg, err := d.detections.ChannelConfig(ctx, in.ChatID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load channel config")
	}
	if !cfg.MonitoringEnabled {
		return nil, nil
	}

	patterns, err := d.detections.ActivePatterns(ctx, cfg.AnalystID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load patterns")
	}
	sort.SliceStable(patterns, func(i, j int) bool {
		return patterns[i].Priority > patterns[j].Priority
	})

	var best *candidate
	for _, p := range patterns {
		re, err := d.compile(p)
		if err != nil {
			d.log.Warnw("Skipping pattern with invalid regex",
				"pattern_id", p.ID,
				"pattern", p.Name,
				"error", err,
			)
			continue
		}

		match := re.FindStringSubmatch(in.Text)
		if match == nil {
			continue
		}

		call := extract(re, match, p.Extraction)
		score := Score(call)
		// Patterns are in priority order, so a tie keeps the earlier one.
		if best == nil || score > best.score {
			best = &candidate{pattern: p, call: call, score: score}
		}
	}

	ev := detection.Event{
		ChatID:          in.ChatID,
		SourceMessageID: in.SourceMessageID,
		AnalystID:       cfg.AnalystID.String(),
		MinConfidence:   cfg.MinConfidence,
		PatternsTested:  len(patterns),
	}

	if best == nil {
		d.record(ctx, ev, detection.OutcomeNoMatch, started)
		return nil, nil
	}

	ev.PatternID = best.pattern.ID.String()
	ev.Confidence = best.score
	ev.Ticker = best.call.Ticker

	if best.score < cfg.MinConfidence {
		d.log.Debugw("Best match below channel threshold",
			"chat_id", in.ChatID,
			"source_message_id", in.SourceMessageID,
			"pattern", best.pattern.Name,
			"confidence", best.score,
			"min_confidence", cfg.MinConfidence,
		)
		d.record(ctx, ev, detection.OutcomeBelowThreshold, started)
		return nil, nil
	}

	det := &detection.Detection{
		ChatID:          in.ChatID,
		SourceMessageID: in.SourceMessageID,
		PatternID:       best.pattern.ID,
		AnalystID:       cfg.AnalystID,
		Extracted:       best.call,
		Confidence:      best.score,
		RequiresReview:  cfg.RequiresReview(best.score),
		Status:          detection.StatusPending,
	}

	created, err := d.detections.Create(ctx, det)
	if err != nil {
		return nil, errors.Wrap(err, "failed to store detection")
	}
	if !created {
		d.record(ctx, ev, detection.OutcomeDuplicate, started)
		return det, nil
	}
	d.record(ctx, ev, detection.OutcomeDetected, started)

	d.log.Infow("Call detected",
		"detection_id", det.ID,
		"chat_id", det.ChatID,
		"source_message_id", det.SourceMessageID,
		"username", in.Username,
		"pattern", best.pattern.Name,
		"ticker", det.Extracted.Ticker,
		"confidence", det.Confidence,
		"requires_review", det.RequiresReview,
	)

	if det.RequiresReview {
		return det, nil
	}

	if _, err := d.process(ctx, det, cfg, detection.StatusAutoProcessed); err != nil {
		if errors.IsValidation(err) {
			d.log.Warnw("Detection left for review, cannot build a signal",
				"detection_id", det.ID,
				"error", err,
			)
			return det, nil
		}
		return det, errors.Wrap(err, "failed to auto-process detection")
	}
	det.Status = detection.StatusAutoProcessed
	det.AutoProcessed = true
	return det, nil
}

// ProcessDetection turns a stored detection into exactly one signal
func (d *Detector) ProcessDetection(ctx context.Context, id uuid.UUID) (*signal.Signal, error) {
	det, err := d.detections.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load detection")
	}
	if det.Status == detection.StatusRejected {
		return nil, errors.ErrAlreadyReviewed
	}

	cfg, err := d.detections.ChannelConfig(ctx, det.ChatID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, errors.Wrap(err, "failed to load channel config")
	}

	status := detection.StatusApproved
	if !det.RequiresReview {
		status = detection.StatusAutoProcessed
	}
	return d.process(ctx, det, cfg, status)
}

// ReviewDetection records a human decision. Approval produces the signal;
// rejection closes the detection without one. A second review fails with
// errors.ErrAlreadyReviewed.
func (d *Detector) ReviewDetection(ctx context.Context, id uuid.UUID, approved bool, reviewer string) (*detection.Detection, error) {
	if reviewer == "" {
		return nil, errors.NewValidationError("reviewer", "reviewer is required", reviewer)
	}

	det, err := d.detections.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load detection")
	}
	if det.Status.Terminal() {
		return nil, errors.ErrAlreadyReviewed
	}

	if !approved {
		return d.markReviewed(ctx, det, detection.StatusRejected, reviewer)
	}

	cfg, err := d.detections.ChannelConfig(ctx, det.ChatID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, errors.Wrap(err, "failed to load channel config")
	}

	// The signal is stored before the status flips so a failure here leaves
	// the detection pending and reviewable.
	s, created, err := d.createSignal(ctx, det, cfg)
	if err != nil {
		return nil, err
	}

	det, err = d.markReviewed(ctx, det, detection.StatusApproved, reviewer)
	if err != nil {
		return nil, err
	}

	if err := d.link(ctx, det, s, created, detection.StatusApproved); err != nil {
		return det, err
	}
	return det, nil
}

func (d *Detector) markReviewed(ctx context.Context, det *detection.Detection, status detection.Status, reviewer string) (*detection.Detection, error) {
	at := d.now().UTC()
	ok, err := d.detections.MarkReviewed(ctx, det.ID, status, reviewer, at)
	if err != nil {
		return nil, errors.Wrap(err, "failed to mark detection reviewed")
	}
	if !ok {
		return nil, errors.ErrAlreadyReviewed
	}

	det.Status = status
	det.ReviewedBy = &reviewer
	det.ReviewedAt = &at

	d.log.Infow("Detection reviewed",
		"detection_id", det.ID,
		"approved", status == detection.StatusApproved,
		"reviewer", reviewer,
	)
	return det, nil
}

func (d *Detector) process(ctx context.Context, det *detection.Detection, cfg *detection.ChannelConfig, status detection.Status) (*signal.Signal, error) {
	s, created, err := d.createSignal(ctx, det, cfg)
	if err != nil {
		return nil, err
	}
	if err := d.link(ctx, det, s, created, status); err != nil {
		return nil, err
	}
	return s, nil
}

// createSignal returns the linked signal when one exists, otherwise stores a
// new one. Creation is idempotent per source message.
func (d *Detector) createSignal(ctx context.Context, det *detection.Detection, cfg *detection.ChannelConfig) (*signal.Signal, bool, error) {
	if det.SignalID != nil {
		existing, err := d.signals.GetByID(ctx, *det.SignalID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, errors.ErrNotFound) {
			return nil, false, errors.Wrap(err, "failed to load linked signal")
		}
	}

	s, err := signalFromDetection(det, cfg)
	if err != nil {
		return nil, false, err
	}

	created, err := d.signals.Create(ctx, s)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to create signal")
	}
	return s, created, nil
}

func (d *Detector) link(ctx context.Context, det *detection.Detection, s *signal.Signal, created bool, status detection.Status) error {
	if err := d.detections.LinkSignal(ctx, det.ID, s.ID, status); err != nil {
		return errors.Wrap(err, "failed to link signal")
	}
	det.SignalID = &s.ID

	if !created {
		return nil
	}

	d.log.Infow("Signal created from detection",
		"signal_id", s.ID,
		"detection_id", det.ID,
		"ticker", s.Ticker,
		"direction", s.Direction,
		"status", status,
	)

	if d.notifier != nil {
		if _, err := d.notifier.Notify(ctx, s.ID); err != nil {
			d.log.Warnw("Failed to notify about signal", "signal_id", s.ID, "error", err)
		}
	}
	return nil
}

func signalFromDetection(det *detection.Detection, cfg *detection.ChannelConfig) (*signal.Signal, error) {
	c := det.Extracted
	if c.Ticker == "" {
		return nil, errors.NewValidationError("ticker", "detection has no ticker", det.ID.String())
	}

	market := c.Market
	if market == "" {
		market = DefaultMarket
	}
	direction := c.Direction
	if !direction.Valid() {
		direction = DefaultDirection
	}
	entryType := c.EntryType
	if entryType == "" {
		entryType = DefaultEntryType
	}
	risk := DefaultRisk
	if c.Risk != nil {
		risk = *c.Risk
	}

	analystID := det.AnalystID
	chatID, messageID, detectionID := det.ChatID, det.SourceMessageID, det.ID

	s := &signal.Signal{
		AnalystID:       &analystID,
		Market:          market,
		Direction:       direction,
		Ticker:          c.Ticker,
		EntryType:       entryType,
		Targets:         signal.Prices(c.Targets),
		RiskPercentage:  risk,
		Description:     c.Matched,
		Origin:          signal.OriginDetected,
		Status:          signal.StatusActive,
		SourceChatID:    &chatID,
		SourceMessageID: &messageID,
		DetectionID:     &detectionID,
	}
	if cfg != nil {
		s.AnalystName = cfg.AnalystName
	}
	if c.Entry != nil {
		s.EntryPrice = decimal.NewNullDecimal(*c.Entry)
	}
	if c.Stop != nil {
		s.StopLoss = decimal.NewNullDecimal(*c.Stop)
	}
	return s, nil
}

func (d *Detector) compile(p *detection.Pattern) (*regexp.Regexp, error) {
	key := p.ID.String() + "\x00" + p.Regex

	d.mu.RLock()
	re, ok := d.compiled[key]
	d.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(p.Regex)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.compiled[key] = re
	d.mu.Unlock()
	return re, nil
}

func (d *Detector) record(ctx context.Context, ev detection.Event, outcome detection.Outcome, started time.Time) {
	metrics.DetectionOutcomes.WithLabelValues(string(outcome)).Inc()
	if d.events == nil {
		return
	}

	ev.Outcome = outcome
	ev.EventTime = d.now().UTC()
	ev.Latency = d.now().Sub(started)
	if err := d.events.Record(ctx, ev); err != nil {
		d.log.Warnw("Failed to record detection event", "outcome", outcome, "error", err)
	}
}
