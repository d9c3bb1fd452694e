package detector

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"callwatch/internal/domain/detection"
	"callwatch/internal/domain/signal"
)

// Standard capture group names used when a pattern does not override them
const (
	groupTicker    = "ticker"
	groupDirection = "direction"
	groupEntry     = "entry"
	groupStop      = "stop"
	groupTargets   = "targets"
	groupRisk      = "risk"
	groupMarket    = "market"
)

var targetSeparators = regexp.MustCompile(`[\s,/|;]+`)

// extract maps the capture groups of one match to a call
func extract(re *regexp.Regexp, match []string, cfg detection.Extraction) signal.DetectedCall {
	group := func(configured, fallback string) string {
		name := configured
		if name == "" {
			name = fallback
		}
		idx := re.SubexpIndex(name)
		if idx < 0 || idx >= len(match) {
			return ""
		}
		return strings.TrimSpace(match[idx])
	}

	call := signal.DetectedCall{Matched: match[0]}

	if t := group(cfg.TickerGroup, groupTicker); t != "" {
		call.Ticker = signal.NormalizeTicker(t)
	}

	call.Market = strings.ToLower(group(cfg.MarketGroup, groupMarket))
	if call.Market == "" {
		call.Market = strings.ToLower(cfg.DefaultMarket)
	}

	if d, ok := signal.ParseDirection(group(cfg.DirectionGroup, groupDirection)); ok {
		call.Direction = d
	}

	call.Entry = parseNumber(group(cfg.EntryGroup, groupEntry))
	call.Stop = parseNumber(group(cfg.StopGroup, groupStop))
	call.Targets = parseTargets(group(cfg.TargetsGroup, groupTargets))
	call.Risk = parseNumber(strings.TrimSuffix(group(cfg.RiskGroup, groupRisk), "%"))

	if call.Entry != nil {
		call.EntryType = signal.EntryLimit
	}

	if call.Direction == "" && (cfg.InferDirection == nil || *cfg.InferDirection) {
		if d, ok := inferDirection(call); ok {
			call.Direction = d
			call.DirectionInferred = true
		}
	}
	if call.Direction == "" {
		if d, ok := signal.ParseDirection(cfg.DefaultDirection); ok {
			call.Direction = d
			call.DirectionInferred = true
		}
	}

	return call
}

// inferDirection derives long/short from the price ladder:
// entry vs stop first, entry vs first target otherwise.
func inferDirection(c signal.DetectedCall) (signal.Direction, bool) {
	if c.Entry == nil {
		return "", false
	}
	if c.Stop != nil && !c.Stop.Equal(*c.Entry) {
		if c.Stop.LessThan(*c.Entry) {
			return signal.DirectionLong, true
		}
		return signal.DirectionShort, true
	}
	if len(c.Targets) > 0 && !c.Targets[0].Equal(*c.Entry) {
		if c.Targets[0].GreaterThan(*c.Entry) {
			return signal.DirectionLong, true
		}
		return signal.DirectionShort, true
	}
	return "", false
}

// parseNumber accepts "42000", "42,000", "$0.85"; nil when absent or not positive
func parseNumber(raw string) *decimal.Decimal {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "$")
	raw = strings.ReplaceAll(raw, ",", "")
	if raw == "" {
		return nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil || !v.IsPositive() {
		return nil
	}
	return &v
}

func parseTargets(raw string) []decimal.Decimal {
	if raw == "" {
		return nil
	}
	var out []decimal.Decimal
	for _, part := range targetSeparators.Split(raw, -1) {
		if v := parseNumber(part); v != nil {
			out = append(out, *v)
		}
	}
	return out
}
