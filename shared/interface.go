package shared

import (
	"context"
)

// CandleFetcher defines the requirements for fetching market candles.
type CandleFetcher interface {
	// FetchCandles fetches the most recent count candles for the market and timeframe,
	// ordered by ascending date.
	FetchCandles(ctx context.Context, market string, timeframe Timeframe, count int) ([]Candlestick, error)
}

// Notifier defines the requirements for delivering notification messages.
type Notifier interface {
	// Notify delivers the provided message.
	Notify(ctx context.Context, message string) error
}
