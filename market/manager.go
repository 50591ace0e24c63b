package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/sinalbot/signals/engine"
	"github.com/sinalbot/signals/indicator"
	"github.com/sinalbot/signals/shared"
)

const (
	// DefaultSweepInterval is the pause between consecutive sweeps.
	DefaultSweepInterval = time.Second * 30
	// DefaultBackoff is the pause after a failed sweep.
	DefaultBackoff = time.Second * 60
	// DefaultCandleCount is the number of candles fetched per evaluation.
	DefaultCandleCount = 400
	// DefaultMaxWorkers is the maximum number of concurrent evaluations.
	DefaultMaxWorkers = 8
	// pruneInterval is the interval between sent signal prunes.
	pruneInterval = time.Minute * 10
)

// ManagerConfig represents the market manager configuration.
type ManagerConfig struct {
	// Markets represents the tracked markets.
	Markets []string
	// Timeframes represents the evaluated timeframes of every market.
	Timeframes []shared.Timeframe
	// Fetcher fetches market candles.
	Fetcher shared.CandleFetcher
	// Evaluator turns indicator rows into signals.
	Evaluator engine.Evaluator
	// Dispatch relays the provided signals for notification.
	Dispatch func(ctx context.Context, signals []shared.Signal) int
	// PruneSent drops dispatched signal identities that can no longer matter.
	PruneSent func(now time.Time) int
	// JobScheduler represents the job scheduler.
	JobScheduler *gocron.Scheduler
	// CandleCount is the number of candles fetched per evaluation.
	CandleCount int
	// Interval is the pause between consecutive sweeps.
	Interval time.Duration
	// Backoff is the pause after a failed sweep.
	Backoff time.Duration
	// MaxWorkers is the maximum number of concurrent evaluations.
	MaxWorkers int
	// Now returns the current time.
	Now func() time.Time
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *ManagerConfig) Validate() error {
	var errs error

	if len(cfg.Markets) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no markets provided for market manager"))
	}
	for _, market := range cfg.Markets {
		if _, err := shared.ActiveID(market); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	if len(cfg.Timeframes) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no timeframes provided for market manager"))
	}
	for _, timeframe := range cfg.Timeframes {
		if !timeframe.IsSupported() {
			errs = errors.Join(errs, fmt.Errorf("unsupported timeframe %s", timeframe.String()))
		}
	}
	if cfg.Fetcher == nil {
		errs = errors.Join(errs, fmt.Errorf("candle fetcher cannot be nil"))
	}
	if cfg.Evaluator == nil {
		errs = errors.Join(errs, fmt.Errorf("evaluator cannot be nil"))
	}
	if cfg.Dispatch == nil {
		errs = errors.Join(errs, fmt.Errorf("dispatch function cannot be nil"))
	}
	if cfg.PruneSent == nil {
		errs = errors.Join(errs, fmt.Errorf("prune sent function cannot be nil"))
	}
	if cfg.JobScheduler == nil {
		errs = errors.Join(errs, fmt.Errorf("job scheduler cannot be nil"))
	}
	if cfg.CandleCount < 0 || cfg.Interval < 0 || cfg.Backoff < 0 || cfg.MaxWorkers < 0 {
		errs = errors.Join(errs, fmt.Errorf("candle count, intervals and workers cannot be negative"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Manager periodically sweeps every tracked market and timeframe for signals.
type Manager struct {
	cfg     *ManagerConfig
	workers chan struct{}
	sweeps  atomic.Uint64
	failed  atomic.Uint64
}

// NewManager initializes a new market manager.
func NewManager(cfg *ManagerConfig) (*Manager, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	if cfg.CandleCount == 0 {
		cfg.CandleCount = DefaultCandleCount
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		cfg:     cfg,
		workers: make(chan struct{}, cfg.MaxWorkers),
	}, nil
}

// Sweeps returns the number of completed sweeps.
func (m *Manager) Sweeps() uint64 {
	return m.sweeps.Load()
}

// FailedTasks returns the number of evaluations that failed across all sweeps.
func (m *Manager) FailedTasks() uint64 {
	return m.failed.Load()
}

// evaluate fetches, evaluates and dispatches the signals of a single market
// and timeframe. Panics are recovered and returned as errors.
func (m *Manager) evaluate(ctx context.Context, market string, timeframe shared.Timeframe) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic: %v", r)
		}
	}()

	candles, err := m.cfg.Fetcher.FetchCandles(ctx, market, timeframe, m.cfg.CandleCount)
	if err != nil {
		return fmt.Errorf("fetching candles: %w", err)
	}

	rows := indicator.Compute(candles)

	signals, err := m.cfg.Evaluator.Evaluate(market, timeframe, rows)
	if err != nil {
		if errors.Is(err, shared.ErrEvaluationSkipped) {
			m.cfg.Logger.Debug().Msgf("skipping %s %s: %v", market, timeframe.String(), err)
			return nil
		}

		return fmt.Errorf("evaluating rows: %w", err)
	}

	if len(signals) == 0 {
		return nil
	}

	m.cfg.Dispatch(ctx, signals)

	return nil
}

// Sweep concurrently evaluates every market and timeframe and returns once all
// evaluations are done. Failed evaluations are logged and counted, they never
// fail the sweep. An error is returned only if the sweep was cancelled or panicked.
func (m *Manager) Sweep(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from sweep panic: %v", r)
		}
	}()

	total := len(m.cfg.Markets) * len(m.cfg.Timeframes)
	var failed atomic.Int32
	var wg sync.WaitGroup

	for _, market := range m.cfg.Markets {
		for _, timeframe := range m.cfg.Timeframes {
			if ctx.Err() != nil {
				wg.Wait()
				return ctx.Err()
			}

			select {
			case <-ctx.Done():
				wg.Wait()
				return ctx.Err()
			case m.workers <- struct{}{}:
			}

			wg.Add(1)
			go func(market string, timeframe shared.Timeframe) {
				defer func() {
					<-m.workers
					wg.Done()
				}()

				err := m.evaluate(ctx, market, timeframe)
				if err != nil {
					failed.Inc()
					m.cfg.Logger.Error().Msgf("evaluating %s %s: %v", market, timeframe.String(), err)
				}
			}(market, timeframe)
		}
	}

	wg.Wait()

	count := m.sweeps.Inc()
	m.failed.Add(uint64(failed.Load()))

	m.cfg.Logger.Info().Msgf("sweep %d complete, %d/%d evaluations failed", count, failed.Load(), total)

	return nil
}

// pruneSentJob drops sent signal identities past their martingale retry time.
//
// This job should be scheduled for periodic execution.
func (m *Manager) pruneSentJob() {
	pruned := m.cfg.PruneSent(m.cfg.Now())
	if pruned > 0 {
		m.cfg.Logger.Debug().Msgf("pruned %d sent signals", pruned)
	}
}

// Run manages the lifecycle processes of the market manager.
func (m *Manager) Run(ctx context.Context) {
	_, err := m.cfg.JobScheduler.Every(pruneInterval).Do(m.pruneSentJob)
	if err != nil {
		m.cfg.Logger.Error().Msgf("scheduling sent signal prune job: %v", err)
	}

	m.cfg.JobScheduler.StartAsync()
	defer m.cfg.JobScheduler.Stop()

	for {
		wait := m.cfg.Interval

		err := m.Sweep(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			m.cfg.Logger.Error().Msgf("sweep failed, backing off for %s: %v", m.cfg.Backoff, err)
			wait = m.cfg.Backoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
