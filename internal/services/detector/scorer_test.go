package detector

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"callwatch/internal/domain/signal"
)

func d(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func TestScore(t *testing.T) {
	const matched = "LONG BTC entry 42000 sl 41000 tp 45000 risk 1"

	tests := []struct {
		name string
		call signal.DetectedCall
		want float64
	}{
		{
			name: "no match",
			call: signal.DetectedCall{Ticker: "BTC"},
			want: 0,
		},
		{
			name: "bare match",
			call: signal.DetectedCall{Matched: matched},
			want: 0.30,
		},
		{
			name: "full call clamps at one",
			call: signal.DetectedCall{
				Matched:   matched,
				Ticker:    "BTC",
				Direction: signal.DirectionLong,
				Entry:     d("42000"),
				Stop:      d("41000"),
				Targets:   []decimal.Decimal{decimal.NewFromInt(45000)},
				Risk:      d("1"),
			},
			want: 1.0,
		},
		{
			name: "inferred direction earns nothing",
			call: signal.DetectedCall{
				Matched:           matched,
				Ticker:            "BTC",
				Direction:         signal.DirectionLong,
				DirectionInferred: true,
				Entry:             d("42000"),
				Stop:              d("41000"),
			},
			want: 0.75,
		},
		{
			name: "stop on wrong side for long",
			call: signal.DetectedCall{
				Matched:   matched,
				Ticker:    "BTC",
				Direction: signal.DirectionLong,
				Entry:     d("42000"),
				Stop:      d("43000"),
			},
			want: 0.65,
		},
		{
			name: "stop on wrong side for short",
			call: signal.DetectedCall{
				Matched:   matched,
				Ticker:    "ETH",
				Direction: signal.DirectionShort,
				Entry:     d("3000"),
				Stop:      d("2900"),
			},
			want: 0.65,
		},
		{
			name: "short match penalty",
			call: signal.DetectedCall{Matched: "$BTC", Ticker: "BTC"},
			want: 0.45,
		},
		{
			name: "penalties stack",
			call: signal.DetectedCall{
				Matched:   "L",
				Direction: signal.DirectionLong,
				Entry:     d("1"),
				Stop:      d("2"),
			},
			want: 0.30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(tt.call), 1e-9)
		})
	}
}

func TestScore_Bounds(t *testing.T) {
	got := Score(signal.DetectedCall{Matched: "x"})
	assert.GreaterOrEqual(t, got, 0.0)
	assert.LessOrEqual(t, got, 1.0)
}
