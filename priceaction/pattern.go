package priceaction

import (
	"github.com/sinalbot/signals/shared"
)

const (
	// minShadowBodyRatio is the minimum size of the rejecting shadow relative to the body.
	minShadowBodyRatio = 2.0
	// maxShadowBodyRatio is the maximum size of the opposite shadow relative to the body.
	maxShadowBodyRatio = 0.3
	// BreakoutThreshold is the fraction the close has to clear the reference average by.
	BreakoutThreshold = 0.0008
	// wickRangeRatio is the range to body ratio above which a candle is flagged as a reversal.
	wickRangeRatio = 2.0
)

// Hammer classifies the provided candle as a hammer (CALL) or a shooting star (PUT).
func Hammer(candle *shared.Candlestick) shared.Hint {
	body := candle.Body()
	if candle.Range() == 0 || body == 0 {
		return shared.NoHint
	}

	lower := candle.LowerWick()
	upper := candle.UpperWick()

	switch candle.FetchSentiment() {
	case shared.Bullish:
		if lower >= minShadowBodyRatio*body && upper <= body*maxShadowBodyRatio {
			return shared.CallHint
		}
	default:
		if upper >= minShadowBodyRatio*body && lower <= body*maxShadowBodyRatio {
			return shared.PutHint
		}
	}

	return shared.NoHint
}

// Breakout classifies a close that clears the provided reference average by more
// than the breakout threshold.
func Breakout(close float64, ema float64) shared.Hint {
	switch {
	case close > ema*(1+BreakoutThreshold):
		return shared.CallHint
	case close < ema*(1-BreakoutThreshold):
		return shared.PutHint
	default:
		return shared.NoHint
	}
}

// IsWickReversal flags candles whose range exceeds twice their body, regardless of direction.
func IsWickReversal(candle *shared.Candlestick) bool {
	return candle.Range() > wickRangeRatio*candle.Body()
}
