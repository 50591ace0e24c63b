package status

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/sinalbot/signals/notify"
	"github.com/sinalbot/signals/shared"
)

const (
	// shutdownTimeout is the maximum duration for in-flight requests to finish on shutdown.
	shutdownTimeout = time.Second * 5
	// readHeaderTimeout is the maximum duration for reading request headers.
	readHeaderTimeout = time.Second * 5
)

// ServerConfig represents the configuration of the status server.
type ServerConfig struct {
	// Address is the listening address of the server.
	Address string
	// Sweeps returns the number of completed scheduler sweeps.
	Sweeps func() uint64
	// FailedTasks returns the number of failed market evaluations across sweeps.
	FailedTasks func() uint64
	// Delivered returns the number of signals delivered.
	Delivered func() uint64
	// Connected reports whether the market data session is up. Optional.
	Connected func() bool
	// Sent returns the signal identities held by the dedup store.
	Sent func() []notify.SentEntry
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *ServerConfig) Validate() error {
	var errs error

	if cfg.Address == "" {
		errs = errors.Join(errs, fmt.Errorf("status server address cannot be an empty string"))
	}
	if cfg.Sweeps == nil {
		errs = errors.Join(errs, fmt.Errorf("sweeps function cannot be nil"))
	}
	if cfg.FailedTasks == nil {
		errs = errors.Join(errs, fmt.Errorf("failed tasks function cannot be nil"))
	}
	if cfg.Delivered == nil {
		errs = errors.Join(errs, fmt.Errorf("delivered function cannot be nil"))
	}
	if cfg.Sent == nil {
		errs = errors.Join(errs, fmt.Errorf("sent function cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// healthResponse is the body of the health endpoint.
type healthResponse struct {
	Status      string `json:"status"`
	Sweeps      uint64 `json:"sweeps"`
	FailedTasks uint64 `json:"failedTasks"`
	Delivered   uint64 `json:"delivered"`
	Connected   *bool  `json:"connected,omitempty"`
}

// sentSignal is a dedup store entry as served by the signals endpoint.
type sentSignal struct {
	Key       string `json:"key"`
	EntryTime string `json:"entryTime"`
	MG1Time   string `json:"mg1Time"`
}

// Server serves the read-only status of the service over http.
type Server struct {
	cfg    *ServerConfig
	router *gin.Engine
	srv    *http.Server
}

// NewServer initializes a new status server.
func NewServer(cfg *ServerConfig) (*Server, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:    cfg,
		router: router,
	}

	router.GET("/health", s.handleHealth)
	router.GET("/signals", s.handleSignals)

	s.srv = &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s, nil
}

// handleHealth reports the service liveness along with its progress counters.
func (s *Server) handleHealth(c *gin.Context) {
	resp := healthResponse{
		Status:      "ok",
		Sweeps:      s.cfg.Sweeps(),
		FailedTasks: s.cfg.FailedTasks(),
		Delivered:   s.cfg.Delivered(),
	}
	if s.cfg.Connected != nil {
		connected := s.cfg.Connected()
		resp.Connected = &connected
	}

	c.JSON(http.StatusOK, resp)
}

// handleSignals lists the signal identities currently held by the dedup store.
func (s *Server) handleSignals(c *gin.Context) {
	entries := s.cfg.Sent()

	signals := make([]sentSignal, 0, len(entries))
	for _, entry := range entries {
		signals = append(signals, sentSignal{
			Key:       entry.Key,
			EntryTime: entry.EntryTime.In(shared.DisplayLocation).Format(time.RFC3339),
			MG1Time:   entry.MG1Time.In(shared.DisplayLocation).Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, gin.H{"signals": signals})
}

// Handler returns the http handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves status requests until the provided context is cancelled.
func (s *Server) Run(ctx context.Context) {
	errCh := make(chan error, 1)
	go func() {
		s.cfg.Logger.Info().Msgf("serving status on %s", s.cfg.Address)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := s.srv.Shutdown(shutdownCtx)
		if err != nil {
			s.cfg.Logger.Error().Msgf("shutting down status server: %v", err)
		}

	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.cfg.Logger.Error().Msgf("serving status: %v", err)
		}
	}
}
