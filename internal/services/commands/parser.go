package commands

import (
	"strings"

	"github.com/shopspring/decimal"

	"callwatch/internal/domain/signal"
	"callwatch/pkg/errors"
)

const (
	prefixClose = "!close"
	prefixDegen = "!degen"

	CloseUsage = "Usage: !close <TICKER>"
	DegenUsage = "Usage: !degen [supporting] <long|short> <TICKER> [entry <num>] [stop <num>] [target <num>[,<num>...]] [risk <tiny|low|medium|high|N%>]"
)

// DefaultRisk is the risk percentage of a degen call that names none
var DefaultRisk = decimal.NewFromInt(2)

var riskLevels = map[string]decimal.Decimal{
	"tiny":   decimal.RequireFromString("0.5"),
	"low":    decimal.NewFromInt(1),
	"medium": decimal.NewFromInt(2),
	"high":   decimal.NewFromInt(5),
}

// IsCommand reports whether text starts with a known command prefix
func IsCommand(text string) bool {
	_, ok := commandOf(text)
	return ok
}

// Parse turns command text into a typed call.
// ok is false when text is not a command at all; err is a
// *errors.ValidationError when it is a command with bad arguments.
func Parse(text string) (call signal.Call, ok bool, err error) {
	fields := strings.Fields(text)
	cmd, ok := commandOf(text)
	if !ok {
		return nil, false, nil
	}
	args := fields[1:]

	switch cmd {
	case prefixClose:
		c, err := parseClose(args)
		return c, true, err
	default:
		c, err := parseDegen(args)
		return c, true, err
	}
}

// commandOf extracts the lowercased command word, dropping a @botname suffix
func commandOf(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}
	word := strings.ToLower(fields[0])
	if at := strings.IndexByte(word, '@'); at > 0 {
		word = word[:at]
	}
	switch word {
	case prefixClose, prefixDegen:
		return word, true
	}
	return "", false
}

func parseClose(args []string) (signal.Call, error) {
	if len(args) != 1 {
		return nil, errors.NewValidationError("ticker", "exactly one ticker is required", strings.Join(args, " "))
	}
	ticker := signal.NormalizeTicker(args[0])
	if !validTicker(ticker) {
		return nil, errors.NewValidationError("ticker", "invalid ticker", args[0])
	}
	return signal.CloseCall{Ticker: ticker}, nil
}

func parseDegen(args []string) (signal.Call, error) {
	call := signal.DegenCall{Risk: DefaultRisk}

	if len(args) > 0 && strings.EqualFold(args[0], "supporting") {
		call.Supporting = true
		args = args[1:]
	}

	if len(args) < 2 {
		return nil, errors.NewValidationError("direction", "direction and ticker are required", strings.Join(args, " "))
	}

	switch strings.ToLower(args[0]) {
	case "long":
		call.Direction = signal.DirectionLong
	case "short":
		call.Direction = signal.DirectionShort
	default:
		return nil, errors.NewValidationError("direction", "must be long or short", args[0])
	}

	call.Ticker = signal.NormalizeTicker(args[1])
	if !validTicker(call.Ticker) {
		return nil, errors.NewValidationError("ticker", "invalid ticker", args[1])
	}

	rest := args[2:]
	seen := make(map[string]bool)
	for len(rest) > 0 {
		key := canonicalKey(rest[0])
		if key == "" {
			return nil, errors.NewValidationError("parameter", "unknown parameter", rest[0])
		}
		if seen[key] {
			return nil, errors.NewValidationError(key, "given more than once", rest[0])
		}
		seen[key] = true

		if len(rest) < 2 {
			return nil, errors.NewValidationError(key, "missing value", "")
		}

		switch key {
		case "entry", "stop":
			v, err := parsePrice(key, rest[1])
			if err != nil {
				return nil, err
			}
			if key == "entry" {
				call.Entry = &v
			} else {
				call.Stop = &v
			}
			rest = rest[2:]

		case "target":
			// Targets may be written "1,2,3", "1, 2, 3" or "1 2 3".
			var raw []string
			i := 1
			for ; i < len(rest) && canonicalKey(rest[i]) == ""; i++ {
				raw = append(raw, rest[i])
			}
			targets, err := parseTargets(strings.Join(raw, ","))
			if err != nil {
				return nil, err
			}
			call.Targets = targets
			rest = rest[i:]

		case "risk":
			v, err := parseRisk(rest[1])
			if err != nil {
				return nil, err
			}
			call.Risk = v
			rest = rest[2:]
		}
	}

	return call, nil
}

func canonicalKey(word string) string {
	switch strings.ToLower(word) {
	case "entry":
		return "entry"
	case "stop", "sl":
		return "stop"
	case "target", "targets", "tp":
		return "target"
	case "risk":
		return "risk"
	}
	return ""
}

func parsePrice(field, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !v.IsPositive() {
		return decimal.Zero, errors.NewValidationError(field, "must be a positive number", raw)
	}
	return v, nil
}

func parseTargets(raw string) ([]decimal.Decimal, error) {
	var targets []decimal.Decimal
	for _, part := range strings.Split(raw, ",") {
		if part == "" {
			continue
		}
		v, err := parsePrice("target", part)
		if err != nil {
			return nil, err
		}
		targets = append(targets, v)
	}
	if len(targets) == 0 {
		return nil, errors.NewValidationError("target", "at least one target is required", raw)
	}
	return targets, nil
}

func parseRisk(raw string) (decimal.Decimal, error) {
	lower := strings.ToLower(raw)
	if v, ok := riskLevels[lower]; ok {
		return v, nil
	}

	if !strings.HasSuffix(lower, "%") {
		return decimal.Zero, errors.NewValidationError("risk", "must be tiny, low, medium, high or N%", raw)
	}
	v, err := decimal.NewFromString(strings.TrimSuffix(lower, "%"))
	if err != nil || !v.IsPositive() || v.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Zero, errors.NewValidationError("risk", "percentage must be in (0, 100]", raw)
	}
	return v, nil
}

func validTicker(t string) bool {
	if t == "" || len(t) > 20 {
		return false
	}
	for _, r := range t {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
