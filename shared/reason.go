package shared

import "fmt"

// Direction represents the direction of a signal.
type Direction int

const (
	Call Direction = iota
	Put
)

// String stringifies the provided direction.
func (d Direction) String() string {
	switch d {
	case Call:
		return "CALL"
	case Put:
		return "PUT"
	default:
		return "unknown"
	}
}

// Hint is the optional directional outcome of a pattern detector.
type Hint int

const (
	NoHint Hint = iota
	CallHint
	PutHint
)

// HintFor returns the hint pointing in the provided direction.
func HintFor(d Direction) Hint {
	if d == Call {
		return CallHint
	}

	return PutHint
}

// Direction returns the direction of the hint, false if there is none.
func (h Hint) Direction() (Direction, bool) {
	switch h {
	case CallHint:
		return Call, true
	case PutHint:
		return Put, true
	default:
		return Call, false
	}
}

// Present checks whether the hint carries a direction.
func (h Hint) Present() bool {
	return h == CallHint || h == PutHint
}

// Agrees checks whether the hint is absent or points in the provided direction.
func (h Hint) Agrees(d Direction) bool {
	dir, ok := h.Direction()
	if !ok {
		return true
	}

	return dir == d
}

// String stringifies the provided hint.
func (h Hint) String() string {
	dir, ok := h.Direction()
	if !ok {
		return "none"
	}

	return dir.String()
}

// Reason represents a confluence factor that contributed to a signal.
type Reason int

const (
	BollingerExtreme Reason = iota
	RSIExtreme
	MACDAgreement
	CandlePattern
	EMABreakout
	EMASeparation
	ATRFloor
	RSICross
	WickReversal
)

// String stringifies the provided reason.
func (r Reason) String() string {
	switch r {
	case BollingerExtreme:
		return "bollinger extreme"
	case RSIExtreme:
		return "rsi extreme"
	case MACDAgreement:
		return "macd agreement"
	case CandlePattern:
		return "candle pattern"
	case EMABreakout:
		return "ema9 breakout"
	case EMASeparation:
		return "ema separation"
	case ATRFloor:
		return "atr floor"
	case RSICross:
		return "rsi cross"
	case WickReversal:
		return "wick reversal"
	default:
		return "unknown"
	}
}

// Describe renders the human readable rationale fragment of the reason for
// the provided direction.
func (r Reason) Describe(d Direction, rsi float64) string {
	call := d == Call
	switch r {
	case BollingerExtreme:
		if call {
			return "BB inferior"
		}
		return "BB superior"
	case RSIExtreme:
		if call {
			return fmt.Sprintf("RSI sobrevendido (%.1f)", rsi)
		}
		return fmt.Sprintf("RSI sobrecomprado (%.1f)", rsi)
	case MACDAgreement:
		if call {
			return "MACD alta"
		}
		return "MACD baixa"
	case CandlePattern:
		if call {
			return "Padrão Hammer"
		}
		return "Shooting Star"
	case EMABreakout:
		return "ROMBADA EMA9"
	case EMASeparation:
		return "EMA 9/21 afastadas"
	case ATRFloor:
		return "ATR ok"
	case RSICross:
		return fmt.Sprintf("RSI cruzou média (%.1f)", rsi)
	case WickReversal:
		return "Pavio de reversão"
	default:
		return r.String()
	}
}
