package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/sinalbot/signals/shared"
)

const (
	// defaultReportFilePath is the default destination of the backtest report.
	defaultReportFilePath = "signals.txt"
	// defaultLogLevel is the default global log level.
	defaultLogLevel = "info"
)

// defaultTimeframes are the timeframes evaluated when none are configured.
var defaultTimeframes = []string{"1", "5"}

// Config is the configuration struct for the service.
type Config struct {
	// TelegramToken is the telegram bot token.
	TelegramToken string
	// TelegramChatID is the destination telegram chat id.
	TelegramChatID string
	// Email is the provider account email.
	Email string
	// Password is the provider account password.
	Password string
	// SSID is a pre-issued provider session id.
	SSID string
	// Pairs represents the tracked markets.
	Pairs []string
	// Timeframes represents the evaluated timeframes, in minutes.
	Timeframes []string
	// WSURL is the provider websocket url.
	WSURL string
	// AuthURL is the provider login url.
	AuthURL string
	// StatusAddress is the listening address of the status server.
	StatusAddress string
	// Backtest is the backtesting flag.
	Backtest bool
	// BacktestDataFilepath is the filepath to the backtest data.
	BacktestDataFilepath string
	// ReportFilePath is the destination of the backtest signal report.
	ReportFilePath string
	// LogLevel is the global log level.
	LogLevel string

	registeredFlags map[string]bool
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if len(cfg.Timeframes) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no timeframes provided for signal service"))
	}
	for _, tf := range cfg.Timeframes {
		_, err := shared.ParseTimeframe(tf)
		if err != nil {
			errs = errors.Join(errs, err)
		}
	}

	_, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		errs = errors.Join(errs, fmt.Errorf("invalid log level %q", cfg.LogLevel))
	}

	usesProvider := !cfg.Backtest || cfg.BacktestDataFilepath == ""
	if usesProvider {
		if len(cfg.Pairs) == 0 {
			errs = errors.Join(errs, fmt.Errorf("no pairs provided for signal service"))
		}
		for _, pair := range cfg.Pairs {
			_, err := shared.ActiveID(pair)
			if err != nil {
				errs = errors.Join(errs, err)
			}
		}

		hasCredentials := cfg.Email != "" || cfg.Password != ""
		switch {
		case hasCredentials && cfg.SSID != "":
			errs = errors.Join(errs, fmt.Errorf("provide either email and password or ssid, not both"))
		case !hasCredentials && cfg.SSID == "":
			errs = errors.Join(errs, fmt.Errorf("email and password or ssid must be provided"))
		case hasCredentials && (cfg.Email == "" || cfg.Password == ""):
			errs = errors.Join(errs, fmt.Errorf("email and password must both be provided"))
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

// ParsedTimeframes returns the configured timeframes.
func (cfg *Config) ParsedTimeframes() ([]shared.Timeframe, error) {
	timeframes := make([]shared.Timeframe, 0, len(cfg.Timeframes))
	for _, tf := range cfg.Timeframes {
		timeframe, err := shared.ParseTimeframe(tf)
		if err != nil {
			return nil, err
		}
		timeframes = append(timeframes, timeframe)
	}

	return timeframes, nil
}

// registerFlag registers command line arguments of any type and tracks them to avoid reregistration.
func (cfg *Config) registerFlag(name string, value interface{}, usage string) error {
	if cfg.registeredFlags == nil {
		cfg.registeredFlags = make(map[string]bool)
	}

	if cfg.registeredFlags[name] {
		return nil
	}

	cfg.registeredFlags[name] = true

	defValue := os.Getenv(name)
	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("%s: value must be a non-nil pointer", name)
	}

	switch val.Elem().Kind() {
	case reflect.String:
		def := defValue
		if def == "" {
			def = *value.(*string)
		}
		flag.StringVar(value.(*string), name, def, usage)
	case reflect.Bool:
		var def bool
		if defValue != "" {
			def, _ = strconv.ParseBool(defValue)
		}
		flag.BoolVar(value.(*bool), name, def, usage)
	case reflect.Slice:
		// Only handle []string
		if val.Elem().Type().Elem().Kind() == reflect.String {
			if defValue != "" {
				*value.(*[]string) = splitList(defValue)
			}
			flag.Func(name, usage, func(s string) error {
				*value.(*[]string) = splitList(s)
				return nil
			})
		} else {
			return fmt.Errorf("%s: unsupported slice type", name)
		}
	default:
		return fmt.Errorf("%s: unsupported type", name)
	}

	return nil
}

// splitList splits a comma separated list, dropping blank entries.
func splitList(s string) []string {
	var list []string
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			list = append(list, entry)
		}
	}

	return list
}

// loadConfig loads the configuration from environment variables and command line flags.
func loadConfig(cfg *Config, path string) error {
	if path == "" {
		path = ".env"
	}

	// Check if the expected .env file exists before loading it.
	_, err := os.Stat(path)
	if err == nil {
		err := godotenv.Load(path)
		if err != nil {
			return fmt.Errorf("loading .env file: %w", err)
		}
	}

	// Defaults, overridden by the environment and then by flags.
	cfg.Pairs = append([]string(nil), shared.DefaultMarkets...)
	cfg.Timeframes = append([]string(nil), defaultTimeframes...)
	cfg.ReportFilePath = defaultReportFilePath
	cfg.LogLevel = defaultLogLevel

	// Register command line arguments using loaded environment variables as defaults.
	flags := []struct {
		name  string
		value interface{}
		usage string
	}{
		{"tgtoken", &cfg.TelegramToken, "the telegram bot token"},
		{"tgchatid", &cfg.TelegramChatID, "the telegram chat id"},
		{"email", &cfg.Email, "the provider account email"},
		{"password", &cfg.Password, "the provider account password"},
		{"ssid", &cfg.SSID, "the provider session id, used instead of email and password"},
		{"pairs", &cfg.Pairs, "the tracked pairs"},
		{"timeframes", &cfg.Timeframes, "the evaluated timeframes in minutes"},
		{"wsurl", &cfg.WSURL, "the provider websocket url"},
		{"authurl", &cfg.AuthURL, "the provider login url"},
		{"statusaddr", &cfg.StatusAddress, "the status server address, disabled if empty"},
		{"backtest", &cfg.Backtest, "the backtest flag"},
		{"backtestdatafilepath", &cfg.BacktestDataFilepath, "the backtest data filepath"},
		{"reportfilepath", &cfg.ReportFilePath, "the backtest report filepath"},
		{"loglevel", &cfg.LogLevel, "the log level"},
	}
	for _, f := range flags {
		err = cfg.registerFlag(f.name, f.value, f.usage)
		if err != nil {
			return err
		}
	}

	// Parse command-line flags.
	flag.Parse()

	return cfg.Validate()
}
