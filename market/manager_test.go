package market

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/go-cmp/cmp"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/sinalbot/signals/indicator"
	"github.com/sinalbot/signals/shared"
)

// taskID names a market and timeframe pair.
func taskID(market string, timeframe shared.Timeframe) string {
	return fmt.Sprintf("%s/%s", market, timeframe.String())
}

// mockFetcher serves synthetic candles, failing for the configured tasks.
type mockFetcher struct {
	failFor map[string]bool
	failAll atomic.Bool
}

func (f *mockFetcher) FetchCandles(_ context.Context, market string, timeframe shared.Timeframe, count int) ([]shared.Candlestick, error) {
	if f.failAll.Load() || f.failFor[taskID(market, timeframe)] {
		return nil, fmt.Errorf("%s: %w", taskID(market, timeframe), shared.ErrDataUnavailable)
	}

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	candles := make([]shared.Candlestick, count)
	for idx := range candles {
		price := 1.1 + 0.001*math.Sin(float64(idx)/10)
		candles[idx] = shared.Candlestick{
			Open:      price,
			Close:     price,
			High:      price + 0.0002,
			Low:       price - 0.0002,
			Date:      start.Add(timeframe.Duration() * time.Duration(idx)),
			Market:    market,
			Timeframe: timeframe,
		}
	}

	return candles, nil
}

// mockEvaluator emits one signal per evaluation, panicking for the configured tasks.
type mockEvaluator struct {
	mtx       sync.Mutex
	evaluated []string
	panicFor  map[string]bool
	skip      bool
}

func (e *mockEvaluator) Evaluate(market string, timeframe shared.Timeframe, rows []indicator.Row) ([]shared.Signal, error) {
	id := taskID(market, timeframe)
	if e.panicFor[id] {
		panic("evaluator exploded")
	}

	e.mtx.Lock()
	e.evaluated = append(e.evaluated, id)
	e.mtx.Unlock()

	if e.skip {
		return nil, shared.ErrEvaluationSkipped
	}

	last := rows[len(rows)-1]
	signal := shared.NewSignal(market, timeframe, shared.Call, last.Date, 3, nil, "", 3)

	return []shared.Signal{signal}, nil
}

func (e *mockEvaluator) tasks() []string {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	tasks := append([]string(nil), e.evaluated...)
	sort.Strings(tasks)
	return tasks
}

// dispatchRecorder records dispatched signals.
type dispatchRecorder struct {
	mtx     sync.Mutex
	signals []shared.Signal
}

func (d *dispatchRecorder) dispatch(_ context.Context, signals []shared.Signal) int {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	d.signals = append(d.signals, signals...)
	return len(signals)
}

func (d *dispatchRecorder) count() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	return len(d.signals)
}

func setupManager(t *testing.T, fetcher *mockFetcher, evaluator *mockEvaluator, modify func(cfg *ManagerConfig)) (*Manager, *dispatchRecorder) {
	recorder := &dispatchRecorder{}

	cfg := &ManagerConfig{
		Markets:      shared.DefaultMarkets,
		Timeframes:   []shared.Timeframe{shared.OneMinute, shared.FiveMinute},
		Fetcher:      fetcher,
		Evaluator:    evaluator,
		Dispatch:     recorder.dispatch,
		PruneSent:    func(time.Time) int { return 0 },
		JobScheduler: gocron.NewScheduler(time.UTC),
		CandleCount:  250,
		Logger:       &log.Logger,
	}
	if modify != nil {
		modify(cfg)
	}

	mgr, err := NewManager(cfg)
	assert.NoError(t, err)

	return mgr, recorder
}

func TestManagerConfigValidate(t *testing.T) {
	valid := func() *ManagerConfig {
		return &ManagerConfig{
			Markets:      []string{"EURUSD"},
			Timeframes:   []shared.Timeframe{shared.OneMinute},
			Fetcher:      &mockFetcher{},
			Evaluator:    &mockEvaluator{},
			Dispatch:     func(context.Context, []shared.Signal) int { return 0 },
			PruneSent:    func(time.Time) int { return 0 },
			JobScheduler: gocron.NewScheduler(time.UTC),
			Logger:       &log.Logger,
		}
	}

	tests := []struct {
		name    string
		modify  func(cfg *ManagerConfig)
		wantErr bool
	}{
		{"valid config", func(*ManagerConfig) {}, false},
		{"no markets", func(cfg *ManagerConfig) { cfg.Markets = nil }, true},
		{"unknown market", func(cfg *ManagerConfig) { cfg.Markets = []string{"GBPNZD"} }, true},
		{"no timeframes", func(cfg *ManagerConfig) { cfg.Timeframes = nil }, true},
		{"unsupported timeframe", func(cfg *ManagerConfig) { cfg.Timeframes = []shared.Timeframe{3} }, true},
		{"missing fetcher", func(cfg *ManagerConfig) { cfg.Fetcher = nil }, true},
		{"missing evaluator", func(cfg *ManagerConfig) { cfg.Evaluator = nil }, true},
		{"missing dispatch", func(cfg *ManagerConfig) { cfg.Dispatch = nil }, true},
		{"missing prune", func(cfg *ManagerConfig) { cfg.PruneSent = nil }, true},
		{"missing scheduler", func(cfg *ManagerConfig) { cfg.JobScheduler = nil }, true},
		{"negative interval", func(cfg *ManagerConfig) { cfg.Interval = -time.Second }, true},
		{"missing logger", func(cfg *ManagerConfig) { cfg.Logger = nil }, true},
	}

	for _, test := range tests {
		cfg := valid()
		test.modify(cfg)

		err := cfg.Validate()
		if test.wantErr && err == nil {
			t.Errorf("%s: expected an error, got none", test.name)
		}
		if !test.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", test.name, err)
		}
	}

	// Ensure unset tunables take their defaults.
	mgr, err := NewManager(valid())
	assert.NoError(t, err)
	assert.Equal(t, mgr.cfg.CandleCount, DefaultCandleCount)
	assert.Equal(t, mgr.cfg.Interval, DefaultSweepInterval)
	assert.Equal(t, mgr.cfg.Backoff, DefaultBackoff)
	assert.Equal(t, cap(mgr.workers), DefaultMaxWorkers)
}

func TestManagerSweep(t *testing.T) {
	evaluator := &mockEvaluator{}
	mgr, recorder := setupManager(t, &mockFetcher{}, evaluator, nil)

	// Ensure every market and timeframe is evaluated and its signals dispatched.
	err := mgr.Sweep(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, len(evaluator.tasks()), 8)
	assert.Equal(t, recorder.count(), 8)
	assert.Equal(t, mgr.Sweeps(), uint64(1))
	assert.Equal(t, mgr.FailedTasks(), uint64(0))
}

func TestManagerSweepIsolatesFailures(t *testing.T) {
	fetcher := &mockFetcher{failFor: map[string]bool{taskID("AUDCAD", shared.FiveMinute): true}}
	evaluator := &mockEvaluator{panicFor: map[string]bool{taskID("EURJPY", shared.FiveMinute): true}}
	mgr, recorder := setupManager(t, fetcher, evaluator, nil)

	// Ensure a failing fetch and a panicking evaluation do not affect the other tasks.
	err := mgr.Sweep(context.Background())
	assert.NoError(t, err)

	want := []string{
		"AUDCAD/M1",
		"EURJPY/M1",
		"EURUSD/M1",
		"EURUSD/M5",
		"USDJPY/M1",
		"USDJPY/M5",
	}
	if diff := cmp.Diff(want, evaluator.tasks()); diff != "" {
		t.Errorf("unexpected evaluated tasks (-want +got):\n%s", diff)
	}
	assert.Equal(t, recorder.count(), 6)
	assert.Equal(t, mgr.FailedTasks(), uint64(2))
}

func TestManagerSweepSkips(t *testing.T) {
	evaluator := &mockEvaluator{skip: true}
	mgr, recorder := setupManager(t, &mockFetcher{}, evaluator, nil)

	// Ensure skipped evaluations are neither failures nor dispatched.
	err := mgr.Sweep(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, len(evaluator.tasks()), 8)
	assert.Equal(t, recorder.count(), 0)
	assert.Equal(t, mgr.FailedTasks(), uint64(0))
}

func TestManagerSweepTotalFailure(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.failAll.Store(true)
	mgr, recorder := setupManager(t, fetcher, &mockEvaluator{}, nil)

	// Ensure a sweep where every evaluation failed still completes without error.
	err := mgr.Sweep(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, mgr.Sweeps(), uint64(1))
	assert.Equal(t, mgr.FailedTasks(), uint64(8))
	assert.Equal(t, recorder.count(), 0)

	// Ensure failures accumulate across sweeps.
	err = mgr.Sweep(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, mgr.Sweeps(), uint64(2))
	assert.Equal(t, mgr.FailedTasks(), uint64(16))
}

func TestManagerSweepCancelled(t *testing.T) {
	evaluator := &mockEvaluator{}
	mgr, recorder := setupManager(t, &mockFetcher{}, evaluator, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Ensure a cancelled sweep never starts an evaluation, with free workers available.
	for i := 0; i < 50; i++ {
		err := mgr.Sweep(ctx)
		assert.True(t, errors.Is(err, context.Canceled))
	}

	assert.Equal(t, len(evaluator.tasks()), 0)
	assert.Equal(t, recorder.count(), 0)
	assert.Equal(t, mgr.Sweeps(), uint64(0))
	assert.Equal(t, mgr.FailedTasks(), uint64(0))
}

func TestManagerRun(t *testing.T) {
	var prunes atomic.Int32
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	var pruneTimes []time.Time
	var pruneMtx sync.Mutex

	mgr, recorder := setupManager(t, &mockFetcher{}, &mockEvaluator{}, func(cfg *ManagerConfig) {
		cfg.Interval = time.Millisecond * 10
		cfg.Now = func() time.Time { return now }
		cfg.PruneSent = func(t time.Time) int {
			prunes.Inc()
			pruneMtx.Lock()
			pruneTimes = append(pruneTimes, t)
			pruneMtx.Unlock()
			return 0
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()

	// Ensure sweeps repeat at the configured interval.
	deadline := time.Now().Add(time.Second * 5)
	for mgr.Sweeps() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond * 10)
	}
	cancel()
	<-done

	assert.GreaterThanOrEqual(t, mgr.Sweeps(), uint64(3))
	assert.GreaterThanOrEqual(t, recorder.count(), 24)

	// Ensure the prune job ran with the manager's clock.
	assert.GreaterThanOrEqual(t, prunes.Load(), int32(1))
	pruneMtx.Lock()
	assert.Equal(t, pruneTimes[0], now)
	pruneMtx.Unlock()
}

func TestManagerRunKeepsCadenceOnTaskFailures(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.failAll.Store(true)

	mgr, _ := setupManager(t, fetcher, &mockEvaluator{}, func(cfg *ManagerConfig) {
		cfg.Interval = time.Millisecond * 5
		cfg.Backoff = time.Hour
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()

	// Ensure sweeps where every task failed are not backed off.
	deadline := time.Now().Add(time.Second * 5)
	for mgr.Sweeps() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond * 5)
	}
	cancel()
	<-done

	assert.GreaterThanOrEqual(t, mgr.Sweeps(), uint64(3))
	assert.GreaterThanOrEqual(t, mgr.FailedTasks(), uint64(24))
}

func TestManagerRunBacksOff(t *testing.T) {
	// The sweep summary log panics, failing the sweep outside the task boundary.
	logger := log.Logger.Hook(zerolog.HookFunc(func(_ *zerolog.Event, _ zerolog.Level, msg string) {
		if strings.HasPrefix(msg, "sweep ") && strings.HasSuffix(msg, "evaluations failed") {
			panic("log sink failed")
		}
	}))

	mgr, recorder := setupManager(t, &mockFetcher{}, &mockEvaluator{}, func(cfg *ManagerConfig) {
		cfg.Interval = time.Millisecond * 5
		cfg.Backoff = time.Hour
		cfg.Logger = &logger
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()

	// Ensure a failed sweep holds off the next one for the backoff period.
	time.Sleep(time.Millisecond * 150)
	cancel()
	<-done

	assert.Equal(t, mgr.Sweeps(), uint64(1))
	assert.Equal(t, mgr.FailedTasks(), uint64(0))
	assert.Equal(t, recorder.count(), 8)
}
