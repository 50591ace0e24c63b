package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sinalbot/signals/engine"
	"github.com/sinalbot/signals/indicator"
	"github.com/sinalbot/signals/shared"
)

const (
	// DefaultCandleCount is the number of candles fetched per market and timeframe.
	DefaultCandleCount = 1000
	// DefaultReportFilePath is the default destination of the signal report.
	DefaultReportFilePath = "signals.txt"
)

// Outcome represents the result of a backtested signal.
type Outcome int

const (
	Unresolved Outcome = iota
	Win
	GaleWin
	Loss
)

// String stringifies the provided outcome.
func (o Outcome) String() string {
	switch o {
	case Unresolved:
		return "unresolved"
	case Win:
		return "win"
	case GaleWin:
		return "gale win"
	case Loss:
		return "loss"
	default:
		return "unknown"
	}
}

// Summary tallies the outcomes of a backtest.
type Summary struct {
	Signals    int
	Wins       int
	GaleWins   int
	Losses     int
	Unresolved int
}

// WinRate returns the share of resolved primary signals won, with or without the gale.
func (s *Summary) WinRate() float64 {
	resolved := s.Wins + s.GaleWins + s.Losses
	if resolved == 0 {
		return 0
	}

	return float64(s.Wins+s.GaleWins) / float64(resolved)
}

// RunnerConfig represents the configuration of the backtest runner.
type RunnerConfig struct {
	// Markets represents the backtested markets.
	Markets []string
	// Timeframes represents the backtested timeframes of every market.
	Timeframes []shared.Timeframe
	// Fetcher fetches the historical candles.
	Fetcher shared.CandleFetcher
	// Evaluator scans the historical rows for signals.
	Evaluator engine.Evaluator
	// CandleCount is the number of candles fetched per market and timeframe.
	CandleCount int
	// LeadTime is the notice the evaluator gives ahead of a candle's open.
	LeadTime time.Duration
	// ReportFilePath is the destination of the signal report.
	ReportFilePath string
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *RunnerConfig) Validate() error {
	var errs error

	if len(cfg.Markets) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no markets provided for backtest"))
	}
	if len(cfg.Timeframes) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no timeframes provided for backtest"))
	}
	if cfg.Fetcher == nil {
		errs = errors.Join(errs, fmt.Errorf("candle fetcher cannot be nil"))
	}
	if cfg.Evaluator == nil {
		errs = errors.Join(errs, fmt.Errorf("evaluator cannot be nil"))
	}
	if cfg.CandleCount < 0 {
		errs = errors.Join(errs, fmt.Errorf("candle count cannot be negative"))
	}
	if cfg.LeadTime < 0 {
		errs = errors.Join(errs, fmt.Errorf("lead time cannot be negative"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Runner replays historical candles through an evaluator and reports the signals found.
type Runner struct {
	cfg *RunnerConfig
}

// NewRunner initializes a new backtest runner.
func NewRunner(cfg *RunnerConfig) (*Runner, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	if cfg.CandleCount == 0 {
		cfg.CandleCount = DefaultCandleCount
	}
	if cfg.ReportFilePath == "" {
		cfg.ReportFilePath = DefaultReportFilePath
	}

	return &Runner{cfg: cfg}, nil
}

// ReportFilePath returns the destination of the signal report.
func (r *Runner) ReportFilePath() string {
	return r.cfg.ReportFilePath
}

// resolve determines the outcome of a primary signal from the candle it enters on
// and the candle of its martingale retry.
func resolve(signal *shared.Signal, candles map[int64]*shared.Candlestick, leadTime time.Duration) Outcome {
	want := shared.Bullish
	if signal.Direction == shared.Put {
		want = shared.Bearish
	}

	open := signal.EntryTime.Add(leadTime)
	entry, ok := candles[open.Unix()]
	if !ok {
		return Unresolved
	}
	if entry.FetchSentiment() == want {
		return Win
	}

	retry, ok := candles[open.Add(signal.Timeframe.Duration()).Unix()]
	if !ok {
		return Unresolved
	}
	if retry.FetchSentiment() == want {
		return GaleWin
	}

	return Loss
}

// backtest evaluates the series of a single market and timeframe.
func (r *Runner) backtest(ctx context.Context, market string, timeframe shared.Timeframe, summary *Summary) ([]shared.Signal, error) {
	candles, err := r.cfg.Fetcher.FetchCandles(ctx, market, timeframe, r.cfg.CandleCount)
	if err != nil {
		return nil, fmt.Errorf("fetching candles: %w", err)
	}

	signals, err := r.cfg.Evaluator.Evaluate(market, timeframe, indicator.Compute(candles))
	if err != nil {
		return nil, fmt.Errorf("evaluating rows: %w", err)
	}

	byOpen := make(map[int64]*shared.Candlestick, len(candles))
	for idx := range candles {
		byOpen[candles[idx].Date.Unix()] = &candles[idx]
	}

	for idx := range signals {
		signal := &signals[idx]
		if signal.Retry {
			continue
		}

		summary.Signals++
		switch resolve(signal, byOpen, r.cfg.LeadTime) {
		case Win:
			summary.Wins++
		case GaleWin:
			summary.GaleWins++
		case Loss:
			summary.Losses++
		default:
			summary.Unresolved++
		}
	}

	return signals, nil
}

// Run backtests every market and timeframe, writes the report and returns the
// outcome summary. Markets whose data is unavailable or too short are logged and
// skipped.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	var summary Summary
	var signals []shared.Signal

	for _, market := range r.cfg.Markets {
		for _, timeframe := range r.cfg.Timeframes {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			found, err := r.backtest(ctx, market, timeframe, &summary)
			if err != nil {
				switch {
				case errors.Is(err, shared.ErrEvaluationSkipped):
					r.cfg.Logger.Warn().Msgf("skipping %s %s: %v", market, timeframe.String(), err)
				default:
					r.cfg.Logger.Error().Msgf("backtesting %s %s: %v", market, timeframe.String(), err)
				}
				continue
			}

			r.cfg.Logger.Info().Msgf("%s %s: %d signals", market, timeframe.String(), len(found))
			signals = append(signals, found...)
		}
	}

	err := WriteReport(r.cfg.ReportFilePath, signals)
	if err != nil {
		return nil, err
	}

	r.cfg.Logger.Info().Msgf("backtest complete: %d signals, %d wins, %d gale wins, %d losses (%.1f%% win rate), "+
		"report written to %s", summary.Signals, summary.Wins, summary.GaleWins, summary.Losses,
		summary.WinRate()*100, r.cfg.ReportFilePath)

	return &summary, nil
}
