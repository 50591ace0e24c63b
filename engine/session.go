package engine

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/sinalbot/signals/indicator"
	"github.com/sinalbot/signals/priceaction"
	"github.com/sinalbot/signals/shared"
)

const (
	// DefaultSessionOpenHour is the utc hour the session window opens at.
	DefaultSessionOpenHour = 8
	// DefaultSessionCloseHour is the utc hour the session window closes at.
	DefaultSessionCloseHour = 17
	// DefaultMinEMASeparation is the minimum short/long average separation as a fraction of price.
	DefaultMinEMASeparation = 0.0005
	// DefaultMinATR is the minimum average true range as a fraction of price.
	DefaultMinATR = 0.0001
	// lookaheadCandles is the number of trailing rows reserved for outcome labeling.
	lookaheadCandles = 2
	// sessionExpiryCandles is the number of candles a session signal runs for.
	sessionExpiryCandles = 1
)

// SessionConfig represents the configuration of the session evaluator.
type SessionConfig struct {
	// OpenHour is the first utc hour evaluated.
	OpenHour int
	// CloseHour is the utc hour at which evaluation stops.
	CloseHour int
	// MinEMASeparation is the minimum short/long average separation as a fraction of price.
	MinEMASeparation float64
	// MinATR is the minimum average true range as a fraction of price.
	MinATR float64
	// LeadTime is the notice given ahead of the next candle's open.
	LeadTime time.Duration
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *SessionConfig) Validate() error {
	var errs error

	if cfg.OpenHour < 0 || cfg.OpenHour > 23 {
		errs = errors.Join(errs, fmt.Errorf("open hour must be within [0, 23], got %d", cfg.OpenHour))
	}
	if cfg.CloseHour < 1 || cfg.CloseHour > 24 {
		errs = errors.Join(errs, fmt.Errorf("close hour must be within [1, 24], got %d", cfg.CloseHour))
	}
	if cfg.OpenHour >= cfg.CloseHour {
		errs = errors.Join(errs, fmt.Errorf("open hour must precede close hour"))
	}
	if cfg.MinEMASeparation < 0 {
		errs = errors.Join(errs, fmt.Errorf("minimum ema separation cannot be negative"))
	}
	if cfg.MinATR < 0 {
		errs = errors.Join(errs, fmt.Errorf("minimum atr cannot be negative"))
	}
	if cfg.LeadTime < 0 {
		errs = errors.Join(errs, fmt.Errorf("lead time cannot be negative"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// DefaultSessionConfig returns the default session evaluator configuration.
func DefaultSessionConfig(logger *zerolog.Logger) *SessionConfig {
	return &SessionConfig{
		OpenHour:         DefaultSessionOpenHour,
		CloseHour:        DefaultSessionCloseHour,
		MinEMASeparation: DefaultMinEMASeparation,
		MinATR:           DefaultMinATR,
		LeadTime:         DefaultLeadTime,
		Logger:           logger,
	}
}

// Session scans a historical series for rsi crosses backed by a separated trend,
// sufficient volatility and a wick rejection during the configured trading hours.
type Session struct {
	cfg *SessionConfig
}

// Ensure the session evaluator implements the Evaluator interface.
var _ Evaluator = (*Session)(nil)

// NewSession initializes a new session evaluator.
func NewSession(cfg *SessionConfig) (*Session, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &Session{cfg: cfg}, nil
}

// inSession checks whether the provided time falls in the trading window.
func (s *Session) inSession(t time.Time) bool {
	hour := t.UTC().Hour()
	return hour >= s.cfg.OpenHour && hour < s.cfg.CloseHour
}

// evaluateRow applies every gate to the row at idx, returning the signal direction
// if they all pass.
func (s *Session) evaluateRow(rows []indicator.Row, idx int) (shared.Direction, bool) {
	row := &rows[idx]
	prev := &rows[idx-1]

	if !s.inSession(row.Date) {
		return shared.Call, false
	}

	direction := shared.Put
	if row.EMABreakout > row.EMALong {
		direction = shared.Call
	}

	if math.Abs(row.EMABreakout-row.EMALong) < s.cfg.MinEMASeparation*row.Close {
		return direction, false
	}

	if row.ATR < s.cfg.MinATR*row.Close {
		return direction, false
	}

	var crossed bool
	switch direction {
	case shared.Call:
		crossed = prev.RSI <= prev.RSISignal && row.RSI > row.RSISignal
	case shared.Put:
		crossed = prev.RSI >= prev.RSISignal && row.RSI < row.RSISignal
	}
	if !crossed {
		return direction, false
	}

	if !priceaction.IsWickReversal(&row.Candlestick) {
		return direction, false
	}

	return direction, true
}

// closedFavorably checks whether the candle closed in the provided direction.
func closedFavorably(candle *shared.Candlestick, direction shared.Direction) bool {
	switch direction {
	case shared.Call:
		return candle.Close > candle.Open
	default:
		return candle.Close < candle.Open
	}
}

// Evaluate scans every row with a predecessor and two following rows. Passing rows
// signal at the next candle's open, with a martingale retry one candle later when
// the entry candle did not close in the signal's favor.
func (s *Session) Evaluate(market string, timeframe shared.Timeframe, rows []indicator.Row) ([]shared.Signal, error) {
	if len(rows) < lookaheadCandles+2 {
		return nil, fmt.Errorf("%s %s has %d indicator rows: %w", market,
			timeframe.String(), len(rows), shared.ErrEvaluationSkipped)
	}

	reasons := []shared.Reason{shared.EMASeparation, shared.ATRFloor, shared.RSICross, shared.WickReversal}

	var signals []shared.Signal
	for idx := 1; idx < len(rows)-lookaheadCandles; idx++ {
		direction, ok := s.evaluateRow(rows, idx)
		if !ok {
			continue
		}

		entryCandle := &rows[idx+1].Candlestick
		rationale := describe(reasons, direction, rows[idx].RSI)

		primary := shared.NewSignal(market, timeframe, direction, entryCandle.Date.Add(-s.cfg.LeadTime),
			sessionExpiryCandles, reasons, rationale, shared.MinConfidence)
		signals = append(signals, primary)

		if closedFavorably(entryCandle, direction) {
			continue
		}

		retry := shared.NewSignal(market, timeframe, direction, rows[idx+2].Date.Add(-s.cfg.LeadTime),
			sessionExpiryCandles, reasons, rationale, shared.MinConfidence)
		retry.Retry = true
		signals = append(signals, retry)
	}

	s.cfg.Logger.Debug().Msgf("%s %s: %d session signals over %d rows", market,
		timeframe.String(), len(signals), len(rows))

	return signals, nil
}
