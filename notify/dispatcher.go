package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/sinalbot/signals/shared"
)

// DispatcherConfig represents the configuration of the signal dispatcher.
type DispatcherConfig struct {
	// Notifier delivers rendered signals.
	Notifier shared.Notifier
	// Store records the identities of signals already dispatched.
	Store *SentStore
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *DispatcherConfig) Validate() error {
	var errs error

	if cfg.Notifier == nil {
		errs = errors.Join(errs, fmt.Errorf("notifier cannot be nil"))
	}
	if cfg.Store == nil {
		errs = errors.Join(errs, fmt.Errorf("sent store cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Dispatcher delivers each unique signal once.
type Dispatcher struct {
	cfg       *DispatcherConfig
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// NewDispatcher initializes a new signal dispatcher.
func NewDispatcher(cfg *DispatcherConfig) (*Dispatcher, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &Dispatcher{cfg: cfg}, nil
}

// Dispatch notifies every provided signal not dispatched before and returns the
// number delivered. A signal is recorded before delivery is attempted, failed
// deliveries are logged and not retried.
func (d *Dispatcher) Dispatch(ctx context.Context, signals []shared.Signal) int {
	var delivered int
	for idx := range signals {
		signal := &signals[idx]

		if !d.cfg.Store.Add(signal) {
			d.cfg.Logger.Debug().Msgf("skipping duplicate signal %s", signal.Key())
			continue
		}

		err := d.cfg.Notifier.Notify(ctx, signal.Render())
		if err != nil {
			d.failed.Inc()
			d.cfg.Logger.Error().Msgf("delivering signal %s: %v", signal.Key(), err)
			continue
		}

		d.delivered.Inc()
		delivered++
		d.cfg.Logger.Info().Msgf("sent %s %s %s signal, entry %s, confidence %d", signal.Market,
			signal.Timeframe.String(), signal.Direction.String(),
			signal.EntryTime.In(shared.DisplayLocation).Format(shared.ClockLayout), signal.Confidence)
	}

	return delivered
}

// Delivered returns the number of signals delivered.
func (d *Dispatcher) Delivered() uint64 {
	return d.delivered.Load()
}

// Failed returns the number of signals whose delivery failed.
func (d *Dispatcher) Failed() uint64 {
	return d.failed.Load()
}
