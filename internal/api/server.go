package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/correlator-io/openlineage-playground/internal/api/middleware"
	"github.com/correlator-io/openlineage-playground/internal/config"
	"github.com/correlator-io/openlineage-playground/internal/lineage"
	"github.com/correlator-io/openlineage-playground/internal/storage"
)

type (
	// Server is the collector's HTTP server.
	Server struct {
		httpServer  *http.Server
		logger      *slog.Logger
		config      *ServerConfig
		startTime   time.Time
		journal     storage.Journal
		validator   *lineage.Validator
		rateLimiter middleware.RateLimiter
		metrics     *metrics
		public      middleware.PublicPaths
	}

	// Option configures optional Server behavior.
	Option func(*Server)
)

// WithLogger replaces the JSON stdout logger built from cfg.LogLevel.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer wires routes and the middleware chain.
//
// Dependencies are injected explicitly rather than being part of ServerConfig:
//   - journal: where accepted events go (required)
//   - verifier: API key check (nil disables authentication)
//   - rateLimiter: request limiter (nil disables rate limiting)
func NewServer(
	cfg *ServerConfig,
	journal storage.Journal,
	verifier middleware.KeyVerifier,
	rateLimiter middleware.RateLimiter,
	opts ...Option,
) *Server {
	server := &Server{
		logger:      config.NewLogger(os.Stdout, cfg.LogLevel),
		config:      cfg,
		journal:     journal,
		validator:   lineage.NewValidator(),
		rateLimiter: rateLimiter,
		metrics:     newMetrics(),
		public:      middleware.PublicPaths{},
	}

	for _, opt := range opts {
		opt(server)
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	// Middleware executes top-to-bottom:
	//   1. CorrelationID - every response carries one, errors included
	//   2. Recovery - catches panics in everything below
	//   3. Auth - identifies the client (optional)
	//   4. RateLimit - per client, before any body is read (optional)
	//   5. RequestLogger - logs only requests that got through
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(server.logger),
		middleware.WithAuth(verifier, server.public, server.logger),
		middleware.WithRateLimit(rateLimiter, server.public, server.logger),
		middleware.WithRequestLogger(server.logger),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	listener, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return s.Serve(ctx, listener)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.startTime = time.Now()

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting lineage collector",
			slog.String("address", listener.Addr().String()),
			slog.String("version", s.config.Version),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
		)

		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		s.logger.Info("Received shutdown signal", slog.String("cause", context.Cause(ctx).Error()))

		return s.shutdown()
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed", slog.String("error", err.Error()))

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if limiter, ok := s.rateLimiter.(io.Closer); ok {
		if err := limiter.Close(); err != nil {
			s.logger.Error("Failed to close rate limiter", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}
