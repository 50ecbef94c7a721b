package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/correlator-io/openlineage-playground/internal/config"
	"github.com/correlator-io/openlineage-playground/internal/storage"
)

type factory struct {
	fs      afero.Fs
	console io.Writer
	logger  *slog.Logger
	journal Journal
}

// Option configures New.
type Option func(*factory)

// WithFS sets the filesystem used by file transports.
func WithFS(fs afero.Fs) Option {
	return func(f *factory) { f.fs = fs }
}

// WithConsoleWriter redirects console transports.
func WithConsoleWriter(w io.Writer) Option {
	return func(f *factory) { f.console = w }
}

// WithLogger sets the logger for kafka and retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(f *factory) { f.logger = logger }
}

// WithJournal makes journal transports write to j instead of opening Postgres.
func WithJournal(j Journal) Option {
	return func(f *factory) { f.journal = j }
}

// New builds the transport tree described by cfg. The result may hold network
// or database resources; release them with Close.
func New(ctx context.Context, cfg *Config, opts ...Option) (Transport, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	f := &factory{
		fs:     afero.NewOsFs(),
		logger: config.DiscardLogger(),
	}

	for _, opt := range opts {
		opt(f)
	}

	if err := cfg.Transport.Validate(); err != nil {
		return nil, err
	}

	return f.build(ctx, &cfg.Transport)
}

func (f *factory) build(ctx context.Context, tc *TransportConfig) (Transport, error) {
	t, err := f.buildType(ctx, tc)
	if err != nil {
		return nil, err
	}

	if tc.Retry != nil {
		t = NewRetry(t, RetryConfig{
			MaxAttempts:     tc.Retry.MaxAttempts,
			InitialInterval: tc.Retry.InitialInterval,
			MaxInterval:     tc.Retry.MaxInterval,
		}, f.logger)
	}

	return t, nil
}

func (f *factory) buildType(ctx context.Context, tc *TransportConfig) (Transport, error) {
	switch tc.Type {
	case TypeHTTP:
		return NewHTTP(tc.httpConfig())
	case TypeFile:
		return NewFile(f.fs, FileConfig{LogFilePath: tc.LogFilePath, Append: tc.Append})
	case TypeConsole:
		return NewConsole(f.console), nil
	case TypeKafka:
		return NewKafka(KafkaConfig{Brokers: tc.Brokers, Topic: tc.Topic}, f.logger)
	case TypeJournal:
		return f.buildJournal(ctx, tc)
	case TypeNoop:
		return NoopTransport{}, nil
	case TypeComposite:
		children := make([]Transport, 0, len(tc.Transports))

		for i := range tc.Transports {
			child, err := f.build(ctx, &tc.Transports[i])
			if err != nil {
				_ = NewComposite(true, children...).Close()

				return nil, fmt.Errorf("transports[%d]: %w", i, err)
			}

			children = append(children, child)
		}

		return NewComposite(tc.ContinueOnFailure, children...), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownTransportType, tc.Type)
}

// buildJournal opens the Postgres journal named by dsn (or DATABASE_URL) and
// migrates it.
func (f *factory) buildJournal(ctx context.Context, tc *TransportConfig) (Transport, error) {
	if f.journal != nil {
		return NewJournal(f.journal, nil), nil
	}

	storageConfig := storage.LoadConfig()
	if tc.DSN != "" {
		storageConfig = storage.NewConfig(tc.DSN)
	}

	conn, err := storage.NewConnection(storageConfig)
	if err != nil {
		return nil, newError(TypeJournal, false, err)
	}

	if err := conn.HealthCheck(ctx); err != nil {
		_ = conn.Close()

		return nil, newError(TypeJournal, false, err)
	}

	if err := storage.Migrate(conn.DB, f.logger); err != nil {
		_ = conn.Close()

		return nil, newError(TypeJournal, false, err)
	}

	journal, err := storage.NewEventJournal(conn, storage.WithJournalLogger(f.logger))
	if err != nil {
		_ = conn.Close()

		return nil, newError(TypeJournal, false, err)
	}

	f.logger.Info("Journal transport connected",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
	)

	return NewJournal(journal, conn.Close), nil
}
