package ctxengine

import (
	"strings"

	"github.com/flemzord/fanyi/internal/provider"
)

// TokenEstimator estimates the token count of a string.
type TokenEstimator interface {
	Estimate(text string) int
}

// Rune weights in twentieths of a token, so the running sum stays exact.
const (
	weightScale       = 20
	weightIdeograph   = 20 // 1.0
	weightLatinLetter = 5  // 0.25
	weightPunctuation = 10 // 0.5
	weightOther       = 6  // 0.3
)

// punctuation is the fixed set of CJK punctuation marks weighted at 0.5.
// The ASCII quotes are included as well.
const punctuation = "，。！？；：“”‘’（）【】《》、\"'"

// WeightedEstimator approximates token counts for mixed Chinese and
// Latin text by weighting each rune by its class. The zero value is ready
// to use.
type WeightedEstimator struct{}

// Estimate returns the weighted rune sum rounded up. It never returns a
// negative value and Estimate("") is 0.
func (WeightedEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	sum := 0
	for _, r := range text {
		switch {
		case r >= 0x4E00 && r <= 0x9FFF:
			sum += weightIdeograph
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			sum += weightLatinLetter
		case strings.ContainsRune(punctuation, r):
			sum += weightPunctuation
		default:
			sum += weightOther
		}
	}
	return (sum + weightScale - 1) / weightScale
}

// EstimateTurn returns the cost of a user/assistant exchange.
func EstimateTurn(estimator TokenEstimator, user, assistant string) int {
	return estimator.Estimate(user) + estimator.Estimate(assistant)
}

// EstimateMessages returns the total estimated tokens for a slice of
// messages, including a small per-message overhead for role formatting.
func EstimateMessages(estimator TokenEstimator, messages []provider.LLMMessage) int {
	total := 0
	for i := range messages {
		total += 4
		total += estimator.Estimate(messages[i].Content)
	}
	return total
}
