package commands

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callwatch/internal/domain/signal"
	"callwatch/internal/testsupport/mocks"
	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
)

type mockOracle struct {
	calls int
	price decimal.Decimal
	err   error
}

func (m *mockOracle) CurrentPrice(context.Context, string) (decimal.Decimal, error) {
	m.calls++
	return m.price, m.err
}

type mockNotifier struct {
	notified []uuid.UUID
	err      error
}

func (m *mockNotifier) Notify(_ context.Context, id uuid.UUID) (signal.Delivery, error) {
	m.notified = append(m.notified, id)
	if m.err != nil {
		return signal.Delivery{}, m.err
	}
	return signal.Delivery{Delivered: true, Channel: "test"}, nil
}

func activeSignals(owners ...string) []*signal.Signal {
	out := make([]*signal.Signal, len(owners))
	for i, o := range owners {
		out[i] = &signal.Signal{ID: uuid.New(), Ticker: "BTC", AnalystName: o, Status: signal.StatusActive}
	}
	return out
}

func TestExecute_Close(t *testing.T) {
	tests := []struct {
		name       string
		invoker    string
		owners     []string
		super      []string
		wantStatus Status
		wantOwner  *string
	}{
		{
			name:       "nothing to close",
			invoker:    "alice",
			wantStatus: StatusNothingToClose,
		},
		{
			name:       "unauthorized",
			invoker:    "bob",
			owners:     []string{"alice"},
			wantStatus: StatusUnauthorized,
		},
		{
			name:       "owner closes own",
			invoker:    "alice",
			owners:     []string{"alice", "carol"},
			wantStatus: StatusClosed,
			wantOwner:  strPtr("alice"),
		},
		{
			name:       "super caller closes all",
			invoker:    "@admin",
			owners:     []string{"alice", "carol"},
			super:      []string{"@admin"},
			wantStatus: StatusClosed,
		},
		{
			name:       "super caller matches any case",
			invoker:    "ADMIN",
			owners:     []string{"alice"},
			super:      []string{"@Admin"},
			wantStatus: StatusClosed,
		},
		{
			name:       "owner matches any case",
			invoker:    "@ALICE",
			owners:     []string{"Alice"},
			wantStatus: StatusClosed,
			wantOwner:  strPtr("Alice"),
		},
		{
			name:       "anonymous invoker",
			invoker:    "",
			owners:     []string{"alice"},
			wantStatus: StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var params *signal.CloseParams
			signals := &mocks.SignalRepository{
				ActiveByTickerFunc: func(_ context.Context, ticker string) ([]*signal.Signal, error) {
					assert.Equal(t, "BTC", ticker)
					return activeSignals(tt.owners...), nil
				},
				CloseActiveFunc: func(_ context.Context, p signal.CloseParams) ([]uuid.UUID, error) {
					params = &p
					return []uuid.UUID{uuid.New()}, nil
				},
			}
			in := NewInterpreter(signals, nil, nil, tt.super, logger.Nop())

			res, err := in.Execute(context.Background(), Invocation{Text: "!close btc", Username: tt.invoker})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, signal.CallClose, res.Command)
			assert.NotEmpty(t, res.Reply)

			switch tt.wantStatus {
			case StatusClosed:
				require.NotNil(t, params)
				assert.Equal(t, tt.wantOwner, params.Owner)
				assert.Len(t, res.Closed, 1)
			case StatusUnauthorized:
				assert.Nil(t, params, "nothing may be closed")
				assert.Equal(t, tt.owners, res.Owners)
				assert.Contains(t, res.Reply, "alice")
			default:
				assert.Nil(t, params)
			}
		})
	}
}

func TestExecute_CloseRaceReportsNothing(t *testing.T) {
	signals := &mocks.SignalRepository{
		ActiveByTickerFunc: func(context.Context, string) ([]*signal.Signal, error) {
			return activeSignals("alice"), nil
		},
		CloseActiveFunc: func(context.Context, signal.CloseParams) ([]uuid.UUID, error) {
			return nil, nil
		},
	}
	in := NewInterpreter(signals, nil, nil, nil, logger.Nop())

	res, err := in.Execute(context.Background(), Invocation{Text: "!close BTC", Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, StatusNothingToClose, res.Status)
}

func TestExecute_DegenExplicit(t *testing.T) {
	var stored *signal.Signal
	signals := &mocks.SignalRepository{
		CreateFunc: func(_ context.Context, s *signal.Signal) (bool, error) {
			s.ID = uuid.New()
			stored = s
			return true, nil
		},
	}
	oracle := &mockOracle{price: dec("1")}
	notifier := &mockNotifier{}
	in := NewInterpreter(signals, oracle, notifier, nil, logger.Nop())

	res, err := in.Execute(context.Background(), Invocation{
		Text:            "!degen long BTC entry 50000 stop 48000 target 55000,60000 risk 1%",
		Username:        "alice",
		ChatID:          -100,
		SourceMessageID: 42,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, res.Status)
	assert.Equal(t, 0, oracle.calls)

	require.NotNil(t, stored)
	assert.Equal(t, signal.DirectionLong, stored.Direction)
	assert.Equal(t, "BTC", stored.Ticker)
	assert.Equal(t, signal.EntryLimit, stored.EntryType)
	assert.True(t, stored.EntryPrice.Valid)
	assert.True(t, dec("50000").Equal(stored.EntryPrice.Decimal))
	assert.True(t, dec("48000").Equal(stored.StopLoss.Decimal))
	require.Len(t, stored.Targets, 2)
	assert.True(t, dec("60000").Equal(stored.Targets[1]))
	assert.True(t, dec("1").Equal(stored.RiskPercentage))
	assert.Equal(t, signal.OriginDegen, stored.Origin)
	assert.Equal(t, "alice", stored.AnalystName)
	assert.Equal(t, int64(42), *stored.SourceMessageID)

	assert.Equal(t, []uuid.UUID{stored.ID}, notifier.notified)
	require.NotNil(t, res.SignalID)
	assert.Equal(t, stored.ID, *res.SignalID)
}

func TestExecute_DegenOmittedEntry(t *testing.T) {
	t.Run("oracle price used", func(t *testing.T) {
		var stored *signal.Signal
		signals := &mocks.SignalRepository{
			CreateFunc: func(_ context.Context, s *signal.Signal) (bool, error) {
				stored = s
				return true, nil
			},
		}
		oracle := &mockOracle{price: dec("3400")}
		in := NewInterpreter(signals, oracle, &mockNotifier{}, nil, logger.Nop())

		res, err := in.Execute(context.Background(), Invocation{Text: "!degen short ETH stop 3500 target 3000", Username: "alice"})
		require.NoError(t, err)
		assert.Equal(t, StatusCreated, res.Status)
		assert.Equal(t, 1, oracle.calls)
		assert.Equal(t, signal.EntryMarket, stored.EntryType)
		assert.True(t, dec("3400").Equal(stored.EntryPrice.Decimal))
	})

	t.Run("oracle failure leaves entry pending", func(t *testing.T) {
		var stored *signal.Signal
		signals := &mocks.SignalRepository{
			CreateFunc: func(_ context.Context, s *signal.Signal) (bool, error) {
				stored = s
				return true, nil
			},
		}
		oracle := &mockOracle{err: errors.ErrPriceUnavailable}
		in := NewInterpreter(signals, oracle, &mockNotifier{}, nil, logger.Nop())

		res, err := in.Execute(context.Background(), Invocation{Text: "!degen short ETH stop 3500 target 3000", Username: "alice"})
		require.NoError(t, err)
		assert.Equal(t, StatusCreated, res.Status)
		assert.Equal(t, 1, oracle.calls)
		assert.Equal(t, signal.EntryMarketPending, stored.EntryType)
		assert.False(t, stored.EntryPrice.Valid)
		assert.Contains(t, res.Reply, "pending")
	})
}

func TestExecute_DegenDuplicateDoesNotNotify(t *testing.T) {
	existing := uuid.New()
	signals := &mocks.SignalRepository{
		CreateFunc: func(_ context.Context, s *signal.Signal) (bool, error) {
			s.ID = existing
			return false, nil
		},
	}
	notifier := &mockNotifier{}
	in := NewInterpreter(signals, nil, notifier, nil, logger.Nop())

	res, err := in.Execute(context.Background(), Invocation{Text: "!degen long BTC entry 1", Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, res.Status)
	assert.Equal(t, existing, *res.SignalID)
	assert.Empty(t, notifier.notified)
}

func TestExecute_NotifierFailureKeepsSignal(t *testing.T) {
	notifier := &mockNotifier{err: errors.ErrUnavailable}
	in := NewInterpreter(&mocks.SignalRepository{}, nil, notifier, nil, logger.Nop())

	res, err := in.Execute(context.Background(), Invocation{Text: "!degen long BTC entry 1", Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, res.Status)
	assert.Len(t, notifier.notified, 1)
}

func TestExecute_ParseErrorCarriesUsage(t *testing.T) {
	in := NewInterpreter(&mocks.SignalRepository{}, nil, nil, nil, logger.Nop())

	res, err := in.Execute(context.Background(), Invocation{Text: "!degen sideways BTC"})
	require.NoError(t, err)
	assert.Equal(t, StatusParseError, res.Status)
	assert.Contains(t, res.Reply, DegenUsage)
	assert.Contains(t, res.Reply, "direction")

	res, err = in.Execute(context.Background(), Invocation{Text: "!close"})
	require.NoError(t, err)
	assert.Equal(t, StatusParseError, res.Status)
	assert.Contains(t, res.Reply, CloseUsage)
}

func TestExecute_StoreFailurePropagates(t *testing.T) {
	signals := &mocks.SignalRepository{
		ActiveByTickerFunc: func(context.Context, string) ([]*signal.Signal, error) {
			return nil, errors.ErrUnavailable
		},
	}
	in := NewInterpreter(signals, nil, nil, nil, logger.Nop())

	_, err := in.Execute(context.Background(), Invocation{Text: "!close BTC", Username: "alice"})
	assert.ErrorIs(t, err, errors.ErrUnavailable)
}

func strPtr(s string) *string { return &s }
