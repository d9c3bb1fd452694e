package detector

import "callwatch/internal/domain/signal"

const (
	scoreMatch     = 0.30
	scoreTicker    = 0.25
	scoreDirection = 0.10
	scoreEntry     = 0.10
	scoreStop      = 0.10
	scoreTargets   = 0.10
	scoreRisk      = 0.05

	penaltyWrongStop  = 0.20
	penaltyShortMatch = 0.10

	shortMatchLen = 8
)

// Score rates how much a pattern match looks like a real call, in [0, 1].
// An inferred direction earns nothing; a stop on the wrong side of the entry costs.
func Score(c signal.DetectedCall) float64 {
	if c.Matched == "" {
		return 0
	}

	score := scoreMatch
	if c.Ticker != "" {
		score += scoreTicker
	}
	if c.Direction.Valid() && !c.DirectionInferred {
		score += scoreDirection
	}
	if c.Entry != nil {
		score += scoreEntry
	}
	if c.Stop != nil {
		score += scoreStop
	}
	if len(c.Targets) > 0 {
		score += scoreTargets
	}
	if c.Risk != nil {
		score += scoreRisk
	}

	if stopOnWrongSide(c) {
		score -= penaltyWrongStop
	}
	if len([]rune(c.Matched)) < shortMatchLen {
		score -= penaltyShortMatch
	}

	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

func stopOnWrongSide(c signal.DetectedCall) bool {
	if c.Entry == nil || c.Stop == nil {
		return false
	}
	switch c.Direction {
	case signal.DirectionLong:
		return c.Stop.GreaterThanOrEqual(*c.Entry)
	case signal.DirectionShort:
		return c.Stop.LessThanOrEqual(*c.Entry)
	}
	return false
}
