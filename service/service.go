package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"

	"github.com/sinalbot/signals/backtest"
	"github.com/sinalbot/signals/engine"
	"github.com/sinalbot/signals/fetch"
	"github.com/sinalbot/signals/market"
	"github.com/sinalbot/signals/notify"
	"github.com/sinalbot/signals/shared"
	"github.com/sinalbot/signals/status"
)

// ServiceConfig represents the configuration struct for the signal service.
type ServiceConfig struct {
	// Markets represents the tracked markets.
	Markets []string
	// Timeframes represents the evaluated timeframes of every market.
	Timeframes []shared.Timeframe
	// TelegramToken is the telegram bot token.
	TelegramToken string
	// TelegramChatID is the destination telegram chat id.
	TelegramChatID string
	// TelegramURL is the telegram bot api base url.
	TelegramURL string
	// Email is the provider account email.
	Email string
	// Password is the provider account password.
	Password string
	// SSID is a pre-issued provider session id.
	SSID string
	// WSURL is the provider websocket url.
	WSURL string
	// AuthURL is the provider login url.
	AuthURL string
	// StatusAddress is the listening address of the status server, disabled if empty.
	StatusAddress string
	// Backtest is the backtesting flag.
	Backtest bool
	// BacktestDataFilepath is the filepath to the backtest data. The provider is
	// used when empty.
	BacktestDataFilepath string
	// ReportFilePath is the destination of the backtest signal report.
	ReportFilePath string
	// Cancel is the context cancellation function.
	Cancel context.CancelFunc
}

// Validate asserts the config sane inputs.
func (cfg *ServiceConfig) Validate() error {
	var errs error

	if cfg.Cancel == nil {
		errs = errors.Join(errs, fmt.Errorf("context cancellation function cannot be nil"))
	}
	if len(cfg.Timeframes) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no timeframes provided for signal service"))
	}

	usesProvider := !cfg.Backtest || cfg.BacktestDataFilepath == ""
	if usesProvider {
		if len(cfg.Markets) == 0 {
			errs = errors.Join(errs, fmt.Errorf("no markets provided for signal service"))
		}
		if cfg.Email == "" && cfg.Password == "" && cfg.SSID == "" {
			errs = errors.Join(errs, fmt.Errorf("provider credentials or ssid must be provided"))
		}
	}

	if !cfg.Backtest {
		if cfg.TelegramToken == "" {
			errs = errors.Join(errs, fmt.Errorf("telegram token cannot be an empty string"))
		}
		if cfg.TelegramChatID == "" {
			errs = errors.Join(errs, fmt.Errorf("telegram chat id cannot be an empty string"))
		}
	}

	return errs
}

// Service represents the forex signal service.
type Service struct {
	cfg           *ServiceConfig
	client        *fetch.Client
	marketManager *market.Manager
	statusServer  *status.Server
	runner        *backtest.Runner
	logger        *zerolog.Logger
	wg            sync.WaitGroup
}

// NewService initializes a new signal service.
func NewService(cfg *ServiceConfig) (*Service, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	logger := log.With().Str("service", "signals").Logger()

	svc := &Service{
		cfg:    cfg,
		logger: &logger,
	}

	var fetcher shared.CandleFetcher
	markets := cfg.Markets
	timeframes := cfg.Timeframes

	switch {
	case cfg.Backtest && cfg.BacktestDataFilepath != "":
		historicDataLogger := logger.With().Str("component", "historicdata").Logger()
		historicData, err := fetch.NewHistoricData(&fetch.HistoricDataConfig{
			FilePath: cfg.BacktestDataFilepath,
			Logger:   &historicDataLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating historic data: %v", err)
		}

		fetcher = historicData
		markets = []string{historicData.Market()}
		timeframes = historicData.Timeframes()

	default:
		wsURL := cfg.WSURL
		if wsURL == "" {
			wsURL = fetch.DefaultWSURL
		}
		authURL := cfg.AuthURL
		if authURL == "" {
			authURL = fetch.DefaultAuthURL
		}

		clientLogger := logger.With().Str("component", "client").Logger()
		svc.client, err = fetch.NewClient(&fetch.ClientConfig{
			WSURL:    wsURL,
			AuthURL:  authURL,
			Email:    cfg.Email,
			Password: cfg.Password,
			SSID:     cfg.SSID,
			Logger:   &clientLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating market data client: %v", err)
		}

		fetcher = svc.client
	}

	if cfg.Backtest {
		sessionLogger := logger.With().Str("component", "session").Logger()
		session, err := engine.NewSession(engine.DefaultSessionConfig(&sessionLogger))
		if err != nil {
			return nil, fmt.Errorf("creating session evaluator: %v", err)
		}

		runnerLogger := logger.With().Str("component", "backtest").Logger()
		svc.runner, err = backtest.NewRunner(&backtest.RunnerConfig{
			Markets:        markets,
			Timeframes:     timeframes,
			Fetcher:        fetcher,
			Evaluator:      session,
			LeadTime:       engine.DefaultLeadTime,
			ReportFilePath: cfg.ReportFilePath,
			Logger:         &runnerLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating backtest runner: %v", err)
		}

		return svc, nil
	}

	engineLogger := logger.With().Str("component", "engine").Logger()
	confluence, err := engine.NewConfluence(&engine.ConfluenceConfig{
		LeadTime: engine.DefaultLeadTime,
		Logger:   &engineLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating confluence evaluator: %v", err)
	}

	telegramURL := cfg.TelegramURL
	if telegramURL == "" {
		telegramURL = notify.DefaultTelegramURL
	}

	notifierLogger := logger.With().Str("component", "telegram").Logger()
	telegram, err := notify.NewTelegram(&notify.TelegramConfig{
		BaseURL: telegramURL,
		Token:   cfg.TelegramToken,
		ChatID:  cfg.TelegramChatID,
		Logger:  &notifierLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating telegram notifier: %v", err)
	}

	store := notify.NewSentStore()

	dispatcherLogger := logger.With().Str("component", "dispatcher").Logger()
	dispatcher, err := notify.NewDispatcher(&notify.DispatcherConfig{
		Notifier: telegram,
		Store:    store,
		Logger:   &dispatcherLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %v", err)
	}

	marketMgrLogger := logger.With().Str("component", "marketmanager").Logger()
	svc.marketManager, err = market.NewManager(&market.ManagerConfig{
		Markets:      markets,
		Timeframes:   timeframes,
		Fetcher:      fetcher,
		Evaluator:    confluence,
		Dispatch:     dispatcher.Dispatch,
		PruneSent:    store.Prune,
		JobScheduler: gocron.NewScheduler(time.UTC),
		Logger:       &marketMgrLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating market manager: %v", err)
	}

	if cfg.StatusAddress != "" {
		statusLogger := logger.With().Str("component", "status").Logger()
		svc.statusServer, err = status.NewServer(&status.ServerConfig{
			Address:     cfg.StatusAddress,
			Sweeps:      svc.marketManager.Sweeps,
			FailedTasks: svc.marketManager.FailedTasks,
			Delivered:   dispatcher.Delivered,
			Connected:   svc.client.Connected,
			Sent:        store.Snapshot,
			Logger:      &statusLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating status server: %v", err)
		}
	}

	return svc, nil
}

// Run handles the lifecycle processes of the signal service.
func (s *Service) Run(ctx context.Context) {
	if s.cfg.Backtest {
		summary, err := s.runner.Run(ctx)
		if err != nil {
			s.logger.Error().Msgf("running backtest: %v", err)
		} else {
			s.logger.Info().Msgf("backtest done with %d signals, review %s for the report",
				summary.Signals, s.runner.ReportFilePath())
		}

		s.closeClient()
		s.cfg.Cancel()
		return
	}

	s.wg.Add(1)
	go func() {
		s.marketManager.Run(ctx)
		s.wg.Done()
	}()

	if s.statusServer != nil {
		s.wg.Add(1)
		go func() {
			s.statusServer.Run(ctx)
			s.wg.Done()
		}()
	}

	s.wg.Wait()
	s.closeClient()

	s.logger.Info().Msgf("signal service stopped")
}

// closeClient closes the market data session if one was created.
func (s *Service) closeClient() {
	if s.client == nil {
		return
	}

	err := s.client.Close()
	if err != nil {
		s.logger.Error().Msgf("closing market data client: %v", err)
	}
}
