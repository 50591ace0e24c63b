package engine

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sinalbot/signals/indicator"
	"github.com/sinalbot/signals/priceaction"
	"github.com/sinalbot/signals/shared"
)

const (
	// DefaultLeadTime is the notice given ahead of a signal's entry.
	DefaultLeadTime = time.Second * 3
	// expiryCandles is the number of candles a live signal runs for.
	expiryCandles = 3
	// trendPoints is the confluence awarded for the mandatory trend factor.
	trendPoints = 2
	// maxPoints is the confluence of a signal with every factor present.
	maxPoints = trendPoints + 5
	// rsiOversold is the rsi level below which CALL momentum is extreme.
	rsiOversold = 35
	// rsiOverbought is the rsi level above which PUT momentum is extreme.
	rsiOverbought = 65
)

// Evaluator defines the requirements for a rule set turning indicator rows into signals.
type Evaluator interface {
	// Evaluate returns the signals found in the provided rows of a market and timeframe.
	// It returns shared.ErrEvaluationSkipped if the rows are too few to evaluate.
	Evaluate(market string, timeframe shared.Timeframe, rows []indicator.Row) ([]shared.Signal, error)
}

// ConfluenceConfig represents the configuration of the confluence evaluator.
type ConfluenceConfig struct {
	// LeadTime is the notice given ahead of the signal entry.
	LeadTime time.Duration
	// Now returns the current time.
	Now func() time.Time
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *ConfluenceConfig) Validate() error {
	var errs error

	if cfg.LeadTime < 0 {
		errs = errors.Join(errs, fmt.Errorf("lead time cannot be negative"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Confluence evaluates the last completed row for trend, volatility, momentum and
// macd agreement, confirmed by candle patterns.
type Confluence struct {
	cfg *ConfluenceConfig
}

// Ensure the confluence evaluator implements the Evaluator interface.
var _ Evaluator = (*Confluence)(nil)

// NewConfluence initializes a new confluence evaluator.
func NewConfluence(cfg *ConfluenceConfig) (*Confluence, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Confluence{cfg: cfg}, nil
}

// CalculateConfidence maps the confluence factors of a signal to a star rating.
// The trend factor is always present and alone rates a single star, every
// factor present rates the maximum. The scale spreads the 2..7 confluence
// points linearly over 1..5 stars, rounding to the nearest star.
func CalculateConfidence(bbExtreme bool, rsiOK bool, macdOK bool, hasPattern bool, hasBreakout bool) int {
	points := trendPoints
	for _, factor := range []bool{bbExtreme, rsiOK, macdOK, hasPattern, hasBreakout} {
		if factor {
			points++
		}
	}

	span := shared.MaxConfidence - shared.MinConfidence
	stars := shared.MinConfidence +
		int(math.Round(float64((points-trendPoints)*span)/float64(maxPoints-trendPoints)))

	return min(shared.MaxConfidence, max(shared.MinConfidence, stars))
}

// Evaluate returns at most one signal, derived from the last row.
func (c *Confluence) Evaluate(market string, timeframe shared.Timeframe, rows []indicator.Row) ([]shared.Signal, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s %s has %d indicator rows: %w", market,
			timeframe.String(), len(rows), shared.ErrEvaluationSkipped)
	}

	last := &rows[len(rows)-1]

	direction := shared.Put
	if last.EMAFast > last.SMASlow {
		direction = shared.Call
	}

	var bbExtreme, rsiOK, macdOK bool
	switch direction {
	case shared.Call:
		bbExtreme = last.Close <= last.BBLower
		rsiOK = last.RSI < rsiOversold
		macdOK = last.MACD > last.MACDSignal
	case shared.Put:
		bbExtreme = last.Close >= last.BBUpper
		rsiOK = last.RSI > rsiOverbought
		macdOK = last.MACD < last.MACDSignal
	}

	if !(bbExtreme && rsiOK && macdOK) {
		c.cfg.Logger.Debug().Msgf("%s %s: no confluence for %s (bb %v, rsi %v, macd %v)",
			market, timeframe.String(), direction.String(), bbExtreme, rsiOK, macdOK)
		return nil, nil
	}

	pattern := priceaction.Hammer(&last.Candlestick)
	breakout := priceaction.Breakout(last.Close, last.EMABreakout)
	if !pattern.Agrees(direction) || !breakout.Agrees(direction) {
		c.cfg.Logger.Debug().Msgf("%s %s: patterns oppose %s (pattern %s, breakout %s)",
			market, timeframe.String(), direction.String(), pattern.String(), breakout.String())
		return nil, nil
	}

	reasons := []shared.Reason{shared.BollingerExtreme, shared.RSIExtreme, shared.MACDAgreement}
	if pattern.Present() {
		reasons = append(reasons, shared.CandlePattern)
	}
	if breakout.Present() {
		reasons = append(reasons, shared.EMABreakout)
	}

	confidence := CalculateConfidence(bbExtreme, rsiOK, macdOK, pattern.Present(), breakout.Present())
	entry := c.cfg.Now().Add(c.cfg.LeadTime)

	signal := shared.NewSignal(market, timeframe, direction, entry, expiryCandles, reasons,
		describe(reasons, direction, last.RSI), confidence)

	return []shared.Signal{signal}, nil
}

// describe joins the rationale fragments of the provided reasons.
func describe(reasons []shared.Reason, direction shared.Direction, rsi float64) string {
	parts := make([]string, 0, len(reasons))
	for _, reason := range reasons {
		parts = append(parts, reason.Describe(direction, rsi))
	}

	return strings.Join(parts, " | ")
}
