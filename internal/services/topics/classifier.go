package topics

import (
	"strings"
	"unicode"
)

// MinUpgradeHits is the keyword score a category needs before a generic topic is renamed
const MinUpgradeHits = 2

type category struct {
	name     string
	keywords []string
}

// Scored in declaration order; a tie keeps the earlier category.
var categories = []category{
	{"Trading Signals", []string{"long", "short", "entry", "stop loss", "sl", "tp", "target", "signal", "call", "buy", "sell", "leverage"}},
	{"Market Analysis", []string{"analysis", "chart", "support", "resistance", "trend", "breakout", "ta", "fibonacci", "rsi", "macd", "volume"}},
	{"Crypto Discussion", []string{"btc", "bitcoin", "eth", "ethereum", "crypto", "altcoin", "defi", "nft", "solana", "token", "blockchain"}},
	{"News & Updates", []string{"news", "announcement", "update", "breaking", "report", "release", "launch", "listing"}},
	{"Community Chat", []string{"gm", "hello", "welcome", "thanks", "lol", "everyone", "guys", "chat"}},
	{"Price Discussion", []string{"price", "pump", "dump", "moon", "ath", "dip", "usd", "usdt"}},
}

// Classify picks the best scoring category for a set of message texts.
// Single-word keywords match whole words, phrases match as substrings.
// ok is false when nothing matched.
func Classify(samples []string) (name string, hits int, ok bool) {
	words := make(map[string]int)
	var joined strings.Builder
	for _, s := range samples {
		lower := strings.ToLower(s)
		joined.WriteString(lower)
		joined.WriteByte('\n')
		for _, w := range strings.FieldsFunc(lower, isSeparator) {
			words[w]++
		}
	}
	text := joined.String()

	for _, c := range categories {
		score := 0
		for _, kw := range c.keywords {
			if strings.Contains(kw, " ") {
				score += strings.Count(text, kw)
				continue
			}
			score += words[kw]
		}
		if score > hits {
			name, hits = c.name, score
		}
	}

	return name, hits, hits > 0
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
