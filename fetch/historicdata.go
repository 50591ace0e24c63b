package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/sinalbot/signals/shared"
)

// HistoricDataConfig represents the historic data source configuration.
type HistoricDataConfig struct {
	// FilePath is the filepath to the historic market data.
	FilePath string
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *HistoricDataConfig) Validate() error {
	var errs error

	if cfg.FilePath == "" {
		errs = errors.Join(errs, fmt.Errorf("historic data filepath cannot be an empty string"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// HistoricData represents historic market data for a single market, served
// through the same interface as the live provider.
type HistoricData struct {
	cfg        *HistoricDataConfig
	market     string
	candles    map[shared.Timeframe][]shared.Candlestick
	timeframes []shared.Timeframe
}

// Ensure historic data implements the CandleFetcher interface.
var _ shared.CandleFetcher = (*HistoricData)(nil)

// loadHistoricData loads the historic data bytes from the provided file path.
func loadHistoricData(filepath string) (*gjson.Result, error) {
	readb, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("reading historic data from file with path '%s': %w", filepath, err)
	}

	if !gjson.ValidBytes(readb) {
		return nil, fmt.Errorf("historic data file '%s' is not valid json", filepath)
	}

	b := gjson.ParseBytes(readb)

	return &b, nil
}

// NewHistoricData initializes a new historic data source. The data file holds
// the market name and a candle array per timeframe, keyed by the timeframe label.
func NewHistoricData(cfg *HistoricDataConfig) (*HistoricData, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	b, err := loadHistoricData(cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("loading historic data: %w", err)
	}

	market := b.Get("market").String()
	if market == "" {
		return nil, fmt.Errorf("historic data has no market")
	}

	historicData := HistoricData{
		cfg:     cfg,
		market:  market,
		candles: make(map[shared.Timeframe][]shared.Candlestick),
	}

	for _, timeframe := range shared.SupportedTimeframes {
		data := b.Get(timeframe.String()).Array()
		if len(data) == 0 {
			continue
		}

		candles, err := shared.ParseCandlesticks(data, market, timeframe)
		if err != nil {
			return nil, fmt.Errorf("parsing %s candlesticks: %w", timeframe.String(), err)
		}

		candles = shared.SortCandlesticks(candles)
		historicData.candles[timeframe] = candles
		historicData.timeframes = append(historicData.timeframes, timeframe)

		first := candles[0].Date
		last := candles[len(candles)-1].Date
		cfg.Logger.Info().Msgf("loaded %d %s %s candles covering %.2f hours, from %s, to %s",
			len(candles), market, timeframe.String(), last.Sub(first).Hours(),
			first.Format(shared.DateLayout), last.Format(shared.DateLayout))
	}

	if len(historicData.timeframes) == 0 {
		return nil, fmt.Errorf("historic data for %s has no candles", market)
	}

	return &historicData, nil
}

// Market returns the market of the historic data.
func (h *HistoricData) Market() string {
	return h.market
}

// Timeframes returns the timeframes with historic data, in ascending order.
func (h *HistoricData) Timeframes() []shared.Timeframe {
	return slices.Clone(h.timeframes)
}

// FetchCandles returns the last count historic candles for the market and timeframe.
func (h *HistoricData) FetchCandles(_ context.Context, market string, timeframe shared.Timeframe, count int) ([]shared.Candlestick, error) {
	if market != h.market {
		return nil, fmt.Errorf("no historic data for %s: %w", market, shared.ErrDataUnavailable)
	}

	candles, ok := h.candles[timeframe]
	if !ok {
		return nil, fmt.Errorf("no historic %s data for %s: %w", timeframe.String(), market, shared.ErrDataUnavailable)
	}

	if count > 0 && count < len(candles) {
		candles = candles[len(candles)-count:]
	}

	return slices.Clone(candles), nil
}
