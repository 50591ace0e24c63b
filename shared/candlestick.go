package shared

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/tidwall/gjson"
)

// Sentiment represents the candlestick sentiment.
type Sentiment int

const (
	Neutral Sentiment = iota
	Bullish
	Bearish
)

// String stringifies the provided sentiment.
func (s Sentiment) String() string {
	switch s {
	case Neutral:
		return "neutral"
	case Bullish:
		return "bullish"
	case Bearish:
		return "bearish"
	default:
		return "unknown"
	}
}

// Candlestick represents a unit candlestick for a market.
type Candlestick struct {
	Open   float64
	Low    float64
	High   float64
	Close  float64
	Volume float64
	Date   time.Time

	// Metadata.
	Market    string
	Timeframe Timeframe
}

// FetchSentiment returns the provided candlestick's sentiment.
func (c *Candlestick) FetchSentiment() Sentiment {
	sentiment := c.Close - c.Open
	switch {
	case sentiment < 0:
		return Bearish
	case sentiment > 0:
		return Bullish
	default:
		return Neutral
	}
}

// Body returns the absolute size of the candle body.
func (c *Candlestick) Body() float64 {
	return math.Abs(c.Close - c.Open)
}

// Range returns the distance between the candle high and low.
func (c *Candlestick) Range() float64 {
	return c.High - c.Low
}

// UpperWick returns the size of the wick above the body.
func (c *Candlestick) UpperWick() float64 {
	return c.High - math.Max(c.Open, c.Close)
}

// LowerWick returns the size of the wick below the body.
func (c *Candlestick) LowerWick() float64 {
	return math.Min(c.Open, c.Close) - c.Low
}

// Validate asserts the candle prices are finite and consistent with each other.
func (c *Candlestick) Validate() error {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite price in %s candle at %s", c.Market, c.Date.Format(DateLayout))
		}
	}

	if c.High < math.Max(c.Open, c.Close) || c.Low > math.Min(c.Open, c.Close) {
		return fmt.Errorf("inconsistent high/low in %s candle at %s", c.Market, c.Date.Format(DateLayout))
	}

	return nil
}

// ParseCandlesticks parses candlesticks from the provided historic json data.
func ParseCandlesticks(data []gjson.Result, market string, timeframe Timeframe) ([]Candlestick, error) {
	candles := make([]Candlestick, 0, len(data))

	for idx := range data {
		dt, err := time.ParseInLocation(DateLayout, data[idx].Get("date").String(), time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parsing candlestick date: %w", err)
		}

		candle := Candlestick{
			Open:      data[idx].Get("open").Float(),
			Low:       data[idx].Get("low").Float(),
			High:      data[idx].Get("high").Float(),
			Close:     data[idx].Get("close").Float(),
			Volume:    data[idx].Get("volume").Float(),
			Date:      dt,
			Market:    market,
			Timeframe: timeframe,
		}

		err = candle.Validate()
		if err != nil {
			return nil, err
		}

		candles = append(candles, candle)
	}

	return candles, nil
}

// SortCandlesticks orders the provided candles by ascending date and drops
// candles sharing a date with an earlier one.
func SortCandlesticks(candles []Candlestick) []Candlestick {
	slices.SortStableFunc(candles, func(a, b Candlestick) int {
		return a.Date.Compare(b.Date)
	})

	return slices.CompactFunc(candles, func(a, b Candlestick) bool {
		return a.Date.Equal(b.Date)
	})
}
