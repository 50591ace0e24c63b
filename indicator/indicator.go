package indicator

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/sinalbot/signals/shared"
)

const (
	// FastEMAPeriod is the period of the fast trend average.
	FastEMAPeriod = 20
	// SlowSMAPeriod is the period of the slow trend average.
	SlowSMAPeriod = 200
	// BollingerPeriod is the period of the bollinger band moving average.
	BollingerPeriod = 20
	// BollingerDeviations is the number of standard deviations of the bands.
	BollingerDeviations = 2.0
	// RSIPeriod is the period of the relative strength index.
	RSIPeriod = 14
	// RSISignalPeriod is the period of the average of the rsi.
	RSISignalPeriod = 9
	// MACDFastPeriod is the period of the fast macd average.
	MACDFastPeriod = 12
	// MACDSlowPeriod is the period of the slow macd average.
	MACDSlowPeriod = 26
	// MACDSignalPeriod is the period of the macd signal line.
	MACDSignalPeriod = 9
	// BreakoutEMAPeriod is the period of the breakout reference average.
	BreakoutEMAPeriod = 9
	// LongEMAPeriod is the period of the long average of the session strategy.
	LongEMAPeriod = 21
	// ATRPeriod is the period of the average true range.
	ATRPeriod = 14
)

// Lookback is the number of leading candles without full indicator coverage.
// The slow trend average has the longest warm up of all indicators.
const Lookback = SlowSMAPeriod - 1

// Row is a candle along with the indicator values computed up to it.
type Row struct {
	shared.Candlestick

	EMAFast     float64
	SMASlow     float64
	EMABreakout float64
	EMALong     float64
	BBLower     float64
	BBMiddle    float64
	BBUpper     float64
	RSI         float64
	RSISignal   float64
	MACD        float64
	MACDSignal  float64
	ATR         float64
}

// valid checks all indicator values of the row are finite.
func (r *Row) valid() bool {
	for _, v := range []float64{r.EMAFast, r.SMASlow, r.EMABreakout, r.EMALong, r.BBLower,
		r.BBMiddle, r.BBUpper, r.RSI, r.RSISignal, r.MACD, r.MACDSignal, r.ATR} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}

	return true
}

// Compute calculates the indicator rows of the provided candles, which must be
// ordered by ascending date. Leading candles lacking the history to compute every
// indicator are dropped, a series shorter than the lookback yields no rows.
func Compute(candles []shared.Candlestick) []Row {
	if len(candles) <= Lookback {
		return nil
	}

	n := len(candles)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for idx := range candles {
		closes[idx] = candles[idx].Close
		highs[idx] = candles[idx].High
		lows[idx] = candles[idx].Low
	}

	emaFast := talib.Ema(closes, FastEMAPeriod)
	smaSlow := talib.Sma(closes, SlowSMAPeriod)
	emaBreakout := talib.Ema(closes, BreakoutEMAPeriod)
	emaLong := talib.Ema(closes, LongEMAPeriod)
	bbUpper, bbMiddle, bbLower := talib.BBands(closes, BollingerPeriod,
		BollingerDeviations, BollingerDeviations, talib.SMA)
	rsi := talib.Rsi(closes, RSIPeriod)
	macd, macdSignal, _ := talib.Macd(closes, MACDFastPeriod, MACDSlowPeriod, MACDSignalPeriod)
	atr := talib.Atr(highs, lows, closes, ATRPeriod)

	// The rsi is zero filled during its warm up, average only the computed span.
	rsiSignal := make([]float64, n)
	copy(rsiSignal[RSIPeriod:], talib.Ema(rsi[RSIPeriod:], RSISignalPeriod))

	rows := make([]Row, 0, n-Lookback)
	for idx := Lookback; idx < n; idx++ {
		row := Row{
			Candlestick: candles[idx],
			EMAFast:     emaFast[idx],
			SMASlow:     smaSlow[idx],
			EMABreakout: emaBreakout[idx],
			EMALong:     emaLong[idx],
			BBLower:     bbLower[idx],
			BBMiddle:    bbMiddle[idx],
			BBUpper:     bbUpper[idx],
			RSI:         rsi[idx],
			RSISignal:   rsiSignal[idx],
			MACD:        macd[idx],
			MACDSignal:  macdSignal[idx],
			ATR:         atr[idx],
		}

		if !row.valid() {
			continue
		}

		rows = append(rows, row)
	}

	return rows
}
