package detector

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callwatch/internal/domain/detection"
	"callwatch/internal/domain/signal"
	"callwatch/internal/testsupport/mocks"
	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
)

type captureRecorder struct {
	events []detection.Event
}

func (c *captureRecorder) Record(_ context.Context, ev detection.Event) error {
	c.events = append(c.events, ev)
	return nil
}

type countingNotifier struct {
	ids []uuid.UUID
}

func (n *countingNotifier) Notify(_ context.Context, id uuid.UUID) (signal.Delivery, error) {
	n.ids = append(n.ids, id)
	return signal.Delivery{Delivered: true}, nil
}

var analystID = uuid.MustParse("0b7c2f3e-8f1a-4d0e-9a55-4c3a1c7d2e10")

func channel(auto bool, minConf float64) *detection.ChannelConfig {
	return &detection.ChannelConfig{
		ChatID:            -100,
		MonitoringEnabled: true,
		AnalystID:         analystID,
		AnalystName:       "alice",
		AutoProcess:       auto,
		MinConfidence:     minConf,
	}
}

func pattern(name, regex string, priority int) *detection.Pattern {
	return &detection.Pattern{
		ID:        uuid.New(),
		AnalystID: analystID,
		Name:      name,
		Regex:     regex,
		Priority:  priority,
		IsActive:  true,
	}
}

type fixture struct {
	detections *mocks.DetectionRepository
	signals    *mocks.SignalRepository
	notifier   *countingNotifier
	events     *captureRecorder
	created    []*detection.Detection
	linked     []detection.Status
	stored     []*signal.Signal
}

func newFixture(cfg *detection.ChannelConfig, patterns ...*detection.Pattern) *fixture {
	f := &fixture{notifier: &countingNotifier{}, events: &captureRecorder{}}
	f.detections = &mocks.DetectionRepository{
		ChannelConfigFunc: func(context.Context, int64) (*detection.ChannelConfig, error) {
			if cfg == nil {
				return nil, errors.ErrNotFound
			}
			return cfg, nil
		},
		ActivePatternsFunc: func(context.Context, uuid.UUID) ([]*detection.Pattern, error) {
			return patterns, nil
		},
		CreateFunc: func(_ context.Context, d *detection.Detection) (bool, error) {
			d.ID = uuid.New()
			f.created = append(f.created, d)
			return true, nil
		},
		LinkSignalFunc: func(_ context.Context, _, _ uuid.UUID, status detection.Status) error {
			f.linked = append(f.linked, status)
			return nil
		},
	}
	f.signals = &mocks.SignalRepository{
		CreateFunc: func(_ context.Context, s *signal.Signal) (bool, error) {
			s.ID = uuid.New()
			f.stored = append(f.stored, s)
			return true, nil
		},
	}
	return f
}

func (f *fixture) detector() *Detector {
	return NewDetector(f.detections, f.signals, f.notifier, f.events, logger.Nop())
}

const tickerOnly = `watching \$(?P<ticker>[A-Z]{2,10})`

const fullPattern = `(?i)(?P<direction>long|short)\s+\$?(?P<ticker>[A-Z]{2,10})\s+entry\s+(?P<entry>[\d.]+)\s+sl\s+(?P<stop>[\d.]+)\s+tp\s+(?P<targets>[\d.,]+)`

func TestDetect_NotMonitored(t *testing.T) {
	t.Run("no config", func(t *testing.T) {
		f := newFixture(nil)
		f.detections.ActivePatternsFunc = func(context.Context, uuid.UUID) ([]*detection.Pattern, error) {
			t.Fatal("patterns must not be loaded")
			return nil, nil
		}

		det, err := f.detector().Detect(context.Background(), Input{Text: "long BTC", ChatID: -100})
		require.NoError(t, err)
		assert.Nil(t, det)
	})

	t.Run("monitoring disabled", func(t *testing.T) {
		cfg := channel(false, 0.5)
		cfg.MonitoringEnabled = false
		f := newFixture(cfg)
		f.detections.ActivePatternsFunc = func(context.Context, uuid.UUID) ([]*detection.Pattern, error) {
			t.Fatal("patterns must not be loaded")
			return nil, nil
		}

		det, err := f.detector().Detect(context.Background(), Input{Text: "long BTC", ChatID: -100})
		require.NoError(t, err)
		assert.Nil(t, det)
	})
}

func TestDetect_HighConfidenceAutoProcesses(t *testing.T) {
	f := newFixture(channel(false, 0.6), pattern("full", fullPattern, 10))

	det, err := f.detector().Detect(context.Background(), Input{
		Text:            "LONG BTC entry 42000 sl 41000 tp 45000,48000",
		ChatID:          -100,
		SourceMessageID: 7,
		Username:        "alice",
	})
	require.NoError(t, err)
	require.NotNil(t, det)

	assert.InDelta(t, 0.95, det.Confidence, 1e-9)
	assert.False(t, det.RequiresReview)
	assert.Equal(t, detection.StatusAutoProcessed, det.Status)
	assert.Equal(t, []detection.Status{detection.StatusAutoProcessed}, f.linked)

	require.Len(t, f.stored, 1)
	s := f.stored[0]
	assert.Equal(t, "BTC", s.Ticker)
	assert.Equal(t, signal.DirectionLong, s.Direction)
	assert.Equal(t, "crypto", s.Market)
	assert.Equal(t, signal.EntryLimit, s.EntryType)
	assert.Equal(t, signal.OriginDetected, s.Origin)
	assert.Equal(t, "alice", s.AnalystName)
	assert.Equal(t, det.ID, *s.DetectionID)
	assert.Equal(t, []uuid.UUID{s.ID}, f.notifier.ids)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, detection.OutcomeDetected, f.events.events[0].Outcome)
	assert.Equal(t, 1, f.events.events[0].PatternsTested)
}

func TestDetect_LowConfidenceNeedsReview(t *testing.T) {
	f := newFixture(channel(false, 0.5), pattern("ticker only", tickerOnly, 1))

	det, err := f.detector().Detect(context.Background(), Input{Text: "watching $SOLANA closely", ChatID: -100, SourceMessageID: 8})
	require.NoError(t, err)
	require.NotNil(t, det)

	assert.InDelta(t, 0.55, det.Confidence, 1e-9)
	assert.True(t, det.RequiresReview)
	assert.Equal(t, detection.StatusPending, det.Status)
	assert.Empty(t, f.stored, "no signal before review")
	assert.Empty(t, f.notifier.ids)
}

func TestDetect_AutoProcessChannel(t *testing.T) {
	f := newFixture(channel(true, 0.5), pattern("ticker only", tickerOnly, 1))

	det, err := f.detector().Detect(context.Background(), Input{Text: "watching $SOLANA closely", ChatID: -100, SourceMessageID: 8})
	require.NoError(t, err)
	require.NotNil(t, det)

	assert.False(t, det.RequiresReview)
	require.Len(t, f.stored, 1)
	assert.Equal(t, signal.DirectionLong, f.stored[0].Direction, "defaults to long")
	assert.Equal(t, signal.EntryMarket, f.stored[0].EntryType, "defaults to market")
	assert.False(t, f.stored[0].EntryPrice.Valid)
}

func TestDetect_BelowThreshold(t *testing.T) {
	f := newFixture(channel(false, 0.9), pattern("ticker only", tickerOnly, 1))

	det, err := f.detector().Detect(context.Background(), Input{Text: "watching $SOLANA", ChatID: -100})
	require.NoError(t, err)
	assert.Nil(t, det)
	assert.Empty(t, f.created)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, detection.OutcomeBelowThreshold, f.events.events[0].Outcome)
}

func TestDetect_ThresholdIsMonotonic(t *testing.T) {
	const text = "watching $SOLANA closely"
	p := pattern("ticker only", tickerOnly, 1)

	baseline := newFixture(channel(false, 0.1), p)
	det, err := baseline.detector().Detect(context.Background(), Input{Text: text, ChatID: -100})
	require.NoError(t, err)
	require.NotNil(t, det)
	best := det.Confidence

	tests := []struct {
		name     string
		min      float64
		detected bool
	}{
		{name: "well below best", min: best / 2, detected: true},
		{name: "just below best", min: best - 0.01, detected: true},
		{name: "equal to best", min: best, detected: true},
		{name: "just above best", min: best + 0.01, detected: false},
		{name: "well above best", min: 1, detected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(channel(false, tt.min), p)
			det, err := f.detector().Detect(context.Background(), Input{Text: text, ChatID: -100})
			require.NoError(t, err)
			if tt.detected {
				require.NotNil(t, det)
				assert.InDelta(t, best, det.Confidence, 1e-9)
				return
			}
			assert.Nil(t, det)
			assert.Empty(t, f.created)
		})
	}
}

func TestDetect_NoMatch(t *testing.T) {
	f := newFixture(channel(false, 0.5), pattern("full", fullPattern, 1))

	det, err := f.detector().Detect(context.Background(), Input{Text: "gm everyone", ChatID: -100})
	require.NoError(t, err)
	assert.Nil(t, det)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, detection.OutcomeNoMatch, f.events.events[0].Outcome)
}

func TestDetect_BestScoreWinsAndTiesKeepPriority(t *testing.T) {
	low := pattern("low priority full", fullPattern, 1)
	high := pattern("high priority ticker", `(?i)(?P<ticker>BTC)`, 5)
	tieA := pattern("tie a", `(?P<ticker>ETH) now`, 3)
	tieB := pattern("tie b", `(?P<ticker>ETH) now`, 4)

	t.Run("higher score beats priority", func(t *testing.T) {
		f := newFixture(channel(false, 0.1), low, high)
		det, err := f.detector().Detect(context.Background(), Input{Text: "long BTC entry 1 sl 0.5 tp 2", ChatID: -100})
		require.NoError(t, err)
		require.NotNil(t, det)
		assert.Equal(t, low.ID, det.PatternID)
	})

	t.Run("tie keeps higher priority", func(t *testing.T) {
		f := newFixture(channel(false, 0.1), tieA, tieB)
		det, err := f.detector().Detect(context.Background(), Input{Text: "ETH now", ChatID: -100})
		require.NoError(t, err)
		require.NotNil(t, det)
		assert.Equal(t, tieB.ID, det.PatternID)
	})
}

func TestDetect_InvalidRegexSkipped(t *testing.T) {
	f := newFixture(channel(false, 0.1), pattern("broken", `(?P<ticker>[A-Z`, 9), pattern("ok", `(?P<ticker>BTC) call`, 1))

	det, err := f.detector().Detect(context.Background(), Input{Text: "BTC call", ChatID: -100})
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.Equal(t, "BTC", det.Extracted.Ticker)
}

func TestDetect_Duplicate(t *testing.T) {
	f := newFixture(channel(false, 0.5), pattern("full", fullPattern, 1))
	existing := uuid.New()
	f.detections.CreateFunc = func(_ context.Context, d *detection.Detection) (bool, error) {
		d.ID = existing
		d.Status = detection.StatusApproved
		return false, nil
	}

	det, err := f.detector().Detect(context.Background(), Input{Text: "long BTC entry 2 sl 1 tp 3", ChatID: -100})
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.Equal(t, existing, det.ID)
	assert.Empty(t, f.stored)
	assert.Equal(t, detection.OutcomeDuplicate, f.events.events[0].Outcome)
}

func TestReviewDetection(t *testing.T) {
	pendingDetection := func() *detection.Detection {
		ticker := signal.DetectedCall{Ticker: "BTC", Matched: "$BTC moon"}
		return &detection.Detection{
			ID:             uuid.New(),
			ChatID:         -100,
			AnalystID:      analystID,
			Extracted:      ticker,
			Confidence:     0.55,
			RequiresReview: true,
			Status:         detection.StatusPending,
		}
	}

	t.Run("approve creates signal", func(t *testing.T) {
		det := pendingDetection()
		f := newFixture(channel(false, 0.5))
		f.detections.GetByIDFunc = func(context.Context, uuid.UUID) (*detection.Detection, error) { return det, nil }
		var reviewedAs detection.Status
		f.detections.MarkReviewedFunc = func(_ context.Context, _ uuid.UUID, status detection.Status, reviewer string, at time.Time) (bool, error) {
			reviewedAs = status
			assert.Equal(t, "ops", reviewer)
			assert.False(t, at.IsZero())
			return true, nil
		}

		got, err := f.detector().ReviewDetection(context.Background(), det.ID, true, "ops")
		require.NoError(t, err)
		assert.Equal(t, detection.StatusApproved, reviewedAs)
		assert.Equal(t, detection.StatusApproved, got.Status)
		require.Len(t, f.stored, 1)
		assert.Equal(t, f.stored[0].ID, *got.SignalID)
		assert.Equal(t, []detection.Status{detection.StatusApproved}, f.linked)
	})

	t.Run("reject creates nothing", func(t *testing.T) {
		det := pendingDetection()
		f := newFixture(channel(false, 0.5))
		f.detections.GetByIDFunc = func(context.Context, uuid.UUID) (*detection.Detection, error) { return det, nil }

		got, err := f.detector().ReviewDetection(context.Background(), det.ID, false, "ops")
		require.NoError(t, err)
		assert.Equal(t, detection.StatusRejected, got.Status)
		assert.Equal(t, "ops", *got.ReviewedBy)
		assert.Empty(t, f.stored)
	})

	t.Run("second review fails", func(t *testing.T) {
		det := pendingDetection()
		det.Status = detection.StatusRejected
		f := newFixture(channel(false, 0.5))
		f.detections.GetByIDFunc = func(context.Context, uuid.UUID) (*detection.Detection, error) { return det, nil }

		_, err := f.detector().ReviewDetection(context.Background(), det.ID, true, "ops")
		assert.ErrorIs(t, err, errors.ErrAlreadyReviewed)
	})

	t.Run("lost review race", func(t *testing.T) {
		det := pendingDetection()
		f := newFixture(channel(false, 0.5))
		f.detections.GetByIDFunc = func(context.Context, uuid.UUID) (*detection.Detection, error) { return det, nil }
		f.detections.MarkReviewedFunc = func(context.Context, uuid.UUID, detection.Status, string, time.Time) (bool, error) {
			return false, nil
		}

		_, err := f.detector().ReviewDetection(context.Background(), det.ID, true, "ops")
		assert.ErrorIs(t, err, errors.ErrAlreadyReviewed)
		assert.Empty(t, f.linked)
	})

	t.Run("signal store failure keeps detection reviewable", func(t *testing.T) {
		det := pendingDetection()
		f := newFixture(channel(false, 0.5))
		f.detections.GetByIDFunc = func(context.Context, uuid.UUID) (*detection.Detection, error) { return det, nil }
		var reviews []detection.Status
		f.detections.MarkReviewedFunc = func(_ context.Context, _ uuid.UUID, status detection.Status, _ string, _ time.Time) (bool, error) {
			reviews = append(reviews, status)
			det.Status = status
			return true, nil
		}
		storeErr := errors.New("connection reset")
		f.signals.CreateFunc = func(context.Context, *signal.Signal) (bool, error) {
			return false, storeErr
		}

		got, err := f.detector().ReviewDetection(context.Background(), det.ID, true, "ops")
		require.ErrorIs(t, err, storeErr)
		assert.Nil(t, got)
		assert.Empty(t, reviews, "status must not change before the signal exists")
		assert.Empty(t, f.linked)
		assert.Equal(t, detection.StatusPending, det.Status)

		f.signals.CreateFunc = func(_ context.Context, s *signal.Signal) (bool, error) {
			s.ID = uuid.New()
			f.stored = append(f.stored, s)
			return true, nil
		}
		got, err = f.detector().ReviewDetection(context.Background(), det.ID, true, "ops")
		require.NoError(t, err)
		assert.Equal(t, []detection.Status{detection.StatusApproved}, reviews)
		require.Len(t, f.stored, 1)
		assert.Equal(t, f.stored[0].ID, *got.SignalID)
		assert.Equal(t, []uuid.UUID{f.stored[0].ID}, f.notifier.ids)
	})

	t.Run("approval without ticker can still be rejected", func(t *testing.T) {
		det := pendingDetection()
		det.Extracted.Ticker = ""
		f := newFixture(channel(false, 0.5))
		f.detections.GetByIDFunc = func(context.Context, uuid.UUID) (*detection.Detection, error) { return det, nil }
		var reviews []detection.Status
		f.detections.MarkReviewedFunc = func(_ context.Context, _ uuid.UUID, status detection.Status, _ string, _ time.Time) (bool, error) {
			reviews = append(reviews, status)
			det.Status = status
			return true, nil
		}

		_, err := f.detector().ReviewDetection(context.Background(), det.ID, true, "ops")
		var verr *errors.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Empty(t, reviews)

		got, err := f.detector().ReviewDetection(context.Background(), det.ID, false, "ops")
		require.NoError(t, err)
		assert.Equal(t, detection.StatusRejected, got.Status)
		assert.Equal(t, []detection.Status{detection.StatusRejected}, reviews)
		assert.Empty(t, f.stored)
	})
}

func TestProcessDetection_Idempotent(t *testing.T) {
	linked := uuid.New()
	det := &detection.Detection{
		ID:        uuid.New(),
		ChatID:    -100,
		Extracted: signal.DetectedCall{Ticker: "BTC", Matched: "BTC call"},
		Status:    detection.StatusAutoProcessed,
		SignalID:  &linked,
	}
	f := newFixture(channel(false, 0.5))
	f.detections.GetByIDFunc = func(context.Context, uuid.UUID) (*detection.Detection, error) { return det, nil }
	f.signals.GetByIDFunc = func(_ context.Context, id uuid.UUID) (*signal.Signal, error) {
		return &signal.Signal{ID: id, Ticker: "BTC"}, nil
	}

	s, err := f.detector().ProcessDetection(context.Background(), det.ID)
	require.NoError(t, err)
	assert.Equal(t, linked, s.ID)
	assert.Empty(t, f.stored)
}
