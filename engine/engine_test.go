package engine

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog/log"

	"github.com/sinalbot/signals/indicator"
	"github.com/sinalbot/signals/shared"
)

var (
	// scenarioNow is the wall clock time the confluence scenario is evaluated at.
	scenarioNow = time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
)

// flatRows creates rows with neutral indicator readings around the provided price.
func flatRows(n int, price float64, start time.Time, timeframe shared.Timeframe) []indicator.Row {
	rows := make([]indicator.Row, n)
	for idx := range rows {
		rows[idx] = indicator.Row{
			Candlestick: shared.Candlestick{
				Open:      price,
				Close:     price,
				High:      price + 0.0001,
				Low:       price - 0.0001,
				Volume:    100,
				Date:      start.Add(timeframe.Duration() * time.Duration(idx)),
				Market:    "EURUSD",
				Timeframe: timeframe,
			},
			EMAFast:     price,
			SMASlow:     price,
			EMABreakout: price,
			EMALong:     price,
			BBLower:     price - 0.001,
			BBMiddle:    price,
			BBUpper:     price + 0.001,
			RSI:         50,
			RSISignal:   50,
			ATR:         0.0002,
		}
	}

	return rows
}

// putScenario creates 250 EURUSD/M1 rows ending in a downtrend with price at
// the upper band, overbought momentum, a bearish macd and a shooting star.
func putScenario() []indicator.Row {
	rows := flatRows(250, 1.1, scenarioNow.Add(-time.Minute*250), shared.OneMinute)

	last := &rows[len(rows)-1]
	last.Open = 1.1010
	last.Close = 1.1000
	last.High = 1.1032
	last.Low = 1.0998
	last.EMAFast = 1.0990
	last.SMASlow = 1.1020
	last.EMABreakout = 1.0995
	last.BBUpper = 1.0995
	last.BBMiddle = 1.0980
	last.BBLower = 1.0965
	last.RSI = 71.26
	last.MACD = -0.0002
	last.MACDSignal = -0.0001

	return rows
}

// callScenario mirrors the put scenario for an uptrend at the lower band.
func callScenario() []indicator.Row {
	rows := flatRows(250, 1.1, scenarioNow.Add(-time.Minute*250), shared.OneMinute)

	last := &rows[len(rows)-1]
	last.Open = 1.0990
	last.Close = 1.1000
	last.High = 1.1002
	last.Low = 1.0968
	last.EMAFast = 1.1010
	last.SMASlow = 1.0980
	last.EMABreakout = 1.1005
	last.BBUpper = 1.1035
	last.BBMiddle = 1.1020
	last.BBLower = 1.1005
	last.RSI = 28.4
	last.MACD = 0.0002
	last.MACDSignal = 0.0001

	return rows
}

func setupConfluence(t *testing.T) *Confluence {
	cfg := &ConfluenceConfig{
		LeadTime: DefaultLeadTime,
		Now:      func() time.Time { return scenarioNow },
		Logger:   &log.Logger,
	}

	eval, err := NewConfluence(cfg)
	assert.NoError(t, err)

	return eval
}

func TestConfluenceConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *ConfluenceConfig
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     &ConfluenceConfig{LeadTime: DefaultLeadTime, Logger: &log.Logger},
			wantErr: false,
		},
		{
			name:    "zero lead time",
			cfg:     &ConfluenceConfig{Logger: &log.Logger},
			wantErr: false,
		},
		{
			name:    "negative lead time",
			cfg:     &ConfluenceConfig{LeadTime: -time.Second, Logger: &log.Logger},
			wantErr: true,
		},
		{
			name:    "missing logger",
			cfg:     &ConfluenceConfig{LeadTime: DefaultLeadTime},
			wantErr: true,
		},
	}

	for _, test := range tests {
		err := test.cfg.Validate()
		if test.wantErr && err == nil {
			t.Errorf("%s: expected an error, got none", test.name)
		}
		if !test.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", test.name, err)
		}
	}

	// Ensure the evaluator defaults to the wall clock.
	eval, err := NewConfluence(&ConfluenceConfig{Logger: &log.Logger})
	assert.NoError(t, err)
	assert.NotNil(t, eval.cfg.Now)
}

func TestCalculateConfidence(t *testing.T) {
	// Ensure the trend alone rates the minimum and every factor rates the maximum.
	assert.Equal(t, CalculateConfidence(false, false, false, false, false), shared.MinConfidence)
	assert.Equal(t, CalculateConfidence(true, true, true, true, true), shared.MaxConfidence)

	// Ensure mandatory confluence without confirmations rates in between.
	assert.Equal(t, CalculateConfidence(true, true, true, false, false), 3)
	assert.Equal(t, CalculateConfidence(true, true, true, true, false), 4)
	assert.Equal(t, CalculateConfidence(true, true, true, false, true), 4)

	// Ensure confidence never decreases as factors are added, and stays in range.
	prev := shared.MinConfidence
	factors := make([]bool, 5)
	for idx := range factors {
		factors[idx] = true
		got := CalculateConfidence(factors[0], factors[1], factors[2], factors[3], factors[4])
		assert.GreaterThanOrEqual(t, got, prev)
		assert.GreaterThanOrEqual(t, got, shared.MinConfidence)
		assert.LessThanOrEqual(t, got, shared.MaxConfidence)
		prev = got
	}

	// Ensure the stars of every factor count follow the linear scale.
	want := []int{1, 2, 3, 3, 4, 5}
	for count, stars := range want {
		factors := make([]bool, 5)
		for idx := 0; idx < count; idx++ {
			factors[idx] = true
		}
		got := CalculateConfidence(factors[0], factors[1], factors[2], factors[3], factors[4])
		if got != stars {
			t.Errorf("%d factors: expected %d stars, got %d", count, stars, got)
		}
	}
}

func TestConfluencePutScenario(t *testing.T) {
	eval := setupConfluence(t)

	signals, err := eval.Evaluate("EURUSD", shared.OneMinute, putScenario())
	assert.NoError(t, err)
	assert.Equal(t, len(signals), 1)

	signal := signals[0]
	assert.Equal(t, signal.Market, "EURUSD")
	assert.Equal(t, signal.Timeframe, shared.OneMinute)
	assert.Equal(t, signal.Direction, shared.Put)
	assert.GreaterThanOrEqual(t, signal.Confidence, 4)
	assert.False(t, signal.Retry)

	// Ensure the rationale names every contributing factor.
	for _, fragment := range []string{"BB superior", "RSI sobrecomprado (71.3)", "MACD baixa", "Shooting Star"} {
		if !strings.Contains(signal.Rationale, fragment) {
			t.Errorf("expected rationale %q to contain %q", signal.Rationale, fragment)
		}
	}

	wantReasons := []shared.Reason{shared.BollingerExtreme, shared.RSIExtreme,
		shared.MACDAgreement, shared.CandlePattern}
	if diff := cmp.Diff(wantReasons, signal.Reasons); diff != "" {
		t.Errorf("unexpected reasons (-want +got):\n%s", diff)
	}

	// Ensure the signal enters after the lead time and expires three candles later.
	assert.Equal(t, signal.EntryTime, scenarioNow.Add(DefaultLeadTime))
	assert.Equal(t, signal.ExpiryTime, signal.EntryTime.Add(time.Minute*3))
	assert.Equal(t, signal.MG1Time, signal.ExpiryTime.Add(time.Minute))
}

func TestConfluenceCallScenario(t *testing.T) {
	eval := setupConfluence(t)

	signals, err := eval.Evaluate("EURUSD", shared.OneMinute, callScenario())
	assert.NoError(t, err)
	assert.Equal(t, len(signals), 1)

	signal := signals[0]
	assert.Equal(t, signal.Direction, shared.Call)
	assert.Equal(t, signal.Rationale, "BB inferior | RSI sobrevendido (28.4) | MACD alta | Padrão Hammer")
	assert.Equal(t, signal.Confidence, 4)
}

func TestConfluenceBreakoutConfirmation(t *testing.T) {
	eval := setupConfluence(t)

	// Ensure a close clearing the short average adds the breakout factor.
	rows := putScenario()
	rows[len(rows)-1].EMABreakout = 1.1020
	signals, err := eval.Evaluate("EURUSD", shared.OneMinute, rows)
	assert.NoError(t, err)
	assert.Equal(t, len(signals), 1)
	assert.Equal(t, signals[0].Confidence, shared.MaxConfidence)
	assert.True(t, strings.HasSuffix(signals[0].Rationale, "Shooting Star | ROMBADA EMA9"))

	// Ensure a breakout opposing the trend suppresses the signal.
	rows = putScenario()
	rows[len(rows)-1].EMABreakout = 1.0980
	signals, err = eval.Evaluate("EURUSD", shared.OneMinute, rows)
	assert.NoError(t, err)
	assert.Equal(t, len(signals), 0)
}

func TestConfluenceGates(t *testing.T) {
	eval := setupConfluence(t)

	tests := []struct {
		name   string
		modify func(row *indicator.Row)
	}{
		{
			name:   "neutral momentum",
			modify: func(row *indicator.Row) { row.RSI = 50 },
		},
		{
			name:   "close inside the bands",
			modify: func(row *indicator.Row) { row.BBUpper = 1.1005 },
		},
		{
			name:   "macd above signal",
			modify: func(row *indicator.Row) { row.MACD = 0.0001 },
		},
		{
			name: "opposing hammer",
			modify: func(row *indicator.Row) {
				row.Open = 1.0990
				row.Close = 1.1000
				row.High = 1.1002
				row.Low = 1.0968
			},
		},
		{
			name: "trend flipped",
			modify: func(row *indicator.Row) {
				row.EMAFast = 1.1030
			},
		},
	}

	for _, test := range tests {
		rows := putScenario()
		test.modify(&rows[len(rows)-1])

		signals, err := eval.Evaluate("EURUSD", shared.OneMinute, rows)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", test.name, err)
		}
		if len(signals) != 0 {
			t.Errorf("%s: expected no signal, got %d", test.name, len(signals))
		}
	}
}

func TestConfluenceNeutralSeries(t *testing.T) {
	eval := setupConfluence(t)

	// Ensure computed indicators of a steady decline do not signal.
	start := scenarioNow.Add(-time.Minute * 260)
	candles := make([]shared.Candlestick, 260)
	for idx := range candles {
		price := 1.2 - float64(idx)*0.0001
		candles[idx] = shared.Candlestick{
			Open:      price + 0.0001,
			Close:     price,
			High:      price + 0.00015,
			Low:       price - 0.00005,
			Date:      start.Add(time.Minute * time.Duration(idx)),
			Market:    "EURUSD",
			Timeframe: shared.OneMinute,
		}
	}

	rows := indicator.Compute(candles)
	assert.Equal(t, len(rows), 260-indicator.Lookback)

	signals, err := eval.Evaluate("EURUSD", shared.OneMinute, rows)
	assert.NoError(t, err)
	assert.Equal(t, len(signals), 0)
}

func TestConfluenceSkipsShortSeries(t *testing.T) {
	eval := setupConfluence(t)

	// Ensure fewer than two rows are skipped rather than evaluated.
	for _, rows := range [][]indicator.Row{nil, flatRows(1, 1.1, scenarioNow, shared.OneMinute)} {
		signals, err := eval.Evaluate("EURUSD", shared.OneMinute, rows)
		assert.Error(t, err)
		assert.True(t, errors.Is(err, shared.ErrEvaluationSkipped))
		assert.Equal(t, len(signals), 0)
	}
}

// sessionRows creates four M5 rows starting at the provided time whose second
// row passes every session gate for a CALL.
func sessionRows(start time.Time) []indicator.Row {
	rows := flatRows(4, 1.1, start, shared.FiveMinute)

	prev := &rows[0]
	prev.RSI = 40
	prev.RSISignal = 45

	row := &rows[1]
	row.Open = 1.1004
	row.Close = 1.1005
	row.High = 1.1010
	row.Low = 1.1000
	row.EMABreakout = 1.1010
	row.EMALong = 1.1000
	row.ATR = 0.0005
	row.RSI = 55
	row.RSISignal = 50

	// The entry candle closes against the signal.
	entry := &rows[2]
	entry.Open = 1.1006
	entry.Close = 1.1002

	return rows
}

func setupSession(t *testing.T) *Session {
	eval, err := NewSession(DefaultSessionConfig(&log.Logger))
	assert.NoError(t, err)

	return eval
}

func TestSessionConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(cfg *SessionConfig)
		wantErr bool
	}{
		{"default config", func(*SessionConfig) {}, false},
		{"open hour out of range", func(cfg *SessionConfig) { cfg.OpenHour = 24 }, true},
		{"close hour out of range", func(cfg *SessionConfig) { cfg.CloseHour = 25 }, true},
		{"open after close", func(cfg *SessionConfig) { cfg.OpenHour = 18 }, true},
		{"negative separation", func(cfg *SessionConfig) { cfg.MinEMASeparation = -1 }, true},
		{"negative atr", func(cfg *SessionConfig) { cfg.MinATR = -1 }, true},
		{"negative lead time", func(cfg *SessionConfig) { cfg.LeadTime = -time.Second }, true},
		{"missing logger", func(cfg *SessionConfig) { cfg.Logger = nil }, true},
	}

	for _, test := range tests {
		cfg := DefaultSessionConfig(&log.Logger)
		test.modify(cfg)

		err := cfg.Validate()
		if test.wantErr && err == nil {
			t.Errorf("%s: expected an error, got none", test.name)
		}
		if !test.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", test.name, err)
		}
	}
}

func TestSessionEvaluate(t *testing.T) {
	eval := setupSession(t)
	start := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	rows := sessionRows(start)

	signals, err := eval.Evaluate("EURUSD", shared.FiveMinute, rows)
	assert.NoError(t, err)
	assert.Equal(t, len(signals), 2)

	// Ensure the primary signal enters ahead of the next candle for a single candle.
	primary := signals[0]
	assert.Equal(t, primary.Direction, shared.Call)
	assert.False(t, primary.Retry)
	assert.Equal(t, primary.EntryTime, rows[2].Date.Add(-DefaultLeadTime))
	assert.Equal(t, primary.ExpiryTime, primary.EntryTime.Add(time.Minute*5))
	assert.Equal(t, primary.Confidence, shared.MinConfidence)
	assert.Equal(t, primary.Rationale, "EMA 9/21 afastadas | ATR ok | RSI cruzou média (55.0) | Pavio de reversão")

	// Ensure the unfavorable entry candle schedules a retry one candle later.
	retry := signals[1]
	assert.True(t, retry.Retry)
	assert.Equal(t, retry.Direction, shared.Call)
	assert.Equal(t, retry.EntryTime, rows[3].Date.Add(-DefaultLeadTime))
	assert.NotEqual(t, retry.Key(), primary.Key())
}

func TestSessionEvaluateFavorableEntry(t *testing.T) {
	eval := setupSession(t)
	rows := sessionRows(time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	rows[2].Close = 1.1012

	// Ensure no retry is scheduled when the entry candle closes in favor.
	signals, err := eval.Evaluate("EURUSD", shared.FiveMinute, rows)
	assert.NoError(t, err)
	assert.Equal(t, len(signals), 1)
	assert.False(t, signals[0].Retry)
}

func TestSessionEvaluatePut(t *testing.T) {
	eval := setupSession(t)
	rows := sessionRows(time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))

	rows[0].RSI = 60
	rows[0].RSISignal = 55
	row := &rows[1]
	row.EMABreakout = 1.0990
	row.EMALong = 1.1000
	row.RSI = 45
	row.RSISignal = 50
	rows[2].Open = 1.1002
	rows[2].Close = 1.0995

	signals, err := eval.Evaluate("EURUSD", shared.FiveMinute, rows)
	assert.NoError(t, err)
	assert.Equal(t, len(signals), 1)
	assert.Equal(t, signals[0].Direction, shared.Put)
}

func TestSessionGates(t *testing.T) {
	eval := setupSession(t)

	tests := []struct {
		name   string
		start  time.Time
		modify func(rows []indicator.Row)
	}{
		{
			name:   "before session",
			start:  time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC),
			modify: func([]indicator.Row) {},
		},
		{
			name:   "after session",
			start:  time.Date(2025, 3, 10, 17, 0, 0, 0, time.UTC),
			modify: func([]indicator.Row) {},
		},
		{
			name:   "averages too close",
			start:  time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
			modify: func(rows []indicator.Row) { rows[1].EMABreakout = 1.1003 },
		},
		{
			name:   "volatility too low",
			start:  time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
			modify: func(rows []indicator.Row) { rows[1].ATR = 0.00005 },
		},
		{
			name:   "rsi already above its average",
			start:  time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
			modify: func(rows []indicator.Row) { rows[0].RSI = 48 },
		},
		{
			name:   "rsi crossing against the trend",
			start:  time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
			modify: func(rows []indicator.Row) { rows[1].RSI = 44 },
		},
		{
			name:  "full bodied candle",
			start: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
			modify: func(rows []indicator.Row) {
				rows[1].Open = 1.1000
				rows[1].Close = 1.1010
			},
		},
	}

	for _, test := range tests {
		rows := sessionRows(test.start)
		test.modify(rows)

		signals, err := eval.Evaluate("EURUSD", shared.FiveMinute, rows)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", test.name, err)
		}
		if len(signals) != 0 {
			t.Errorf("%s: expected no signals, got %d", test.name, len(signals))
		}
	}
}

func TestSessionSkipsShortSeries(t *testing.T) {
	eval := setupSession(t)

	rows := sessionRows(time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	_, err := eval.Evaluate("EURUSD", shared.FiveMinute, rows[:3])
	assert.True(t, errors.Is(err, shared.ErrEvaluationSkipped))
}
