// Package main provides the local OpenLineage collector.
//
// The collector accepts events from the HTTP transport and writes them to an
// event journal: PostgreSQL when DATABASE_URL is set, process memory otherwise.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/correlator-io/openlineage-playground/internal/api"
	"github.com/correlator-io/openlineage-playground/internal/api/middleware"
	"github.com/correlator-io/openlineage-playground/internal/config"
	"github.com/correlator-io/openlineage-playground/internal/storage"
)

// Version information.
const (
	version = "0.1.0-dev"
	name    = "lineage-collector"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	hashKey := flag.String("hash-key", "", "print the bcrypt hash of an API key for COLLECTOR_API_KEY_HASH and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if *hashKey != "" {
		hash, err := storage.HashAPIKey(*hashKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hash API key: %v\n", err)
			os.Exit(1)
		}

		fmt.Println(hash)
		os.Exit(0)
	}

	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverConfig := api.LoadServerConfig()
	serverConfig.Version = version

	logger := config.NewLogger(os.Stdout, serverConfig.LogLevel)

	logger.Info("Starting lineage collector",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.Int64("max_request_size", serverConfig.MaxRequestSize),
		slog.Int("max_batch_size", serverConfig.MaxBatchSize),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	journal, closeJournal, err := openJournal(logger)
	if err != nil {
		logger.Error("Failed to open event journal", slog.String("error", err.Error()))

		return 1
	}

	defer closeJournal()

	verifier := middleware.NewHashVerifier(
		config.ParseCommaSeparatedList(config.GetEnvStr("COLLECTOR_API_KEY_HASH", "")),
	)
	if verifier == nil {
		logger.Warn("API key authentication disabled",
			slog.String("security", "Only use in trusted networks (localhost, VPN, internal)"),
			slog.String("note", "Set COLLECTOR_API_KEY_HASH to enable it (see -hash-key)"),
		)
	} else {
		logger.Info("API key authentication enabled", slog.Int("keys", len(verifier.Hashes)))
	}

	// A nil interface, not a typed nil, disables rate limiting.
	var rateLimiter middleware.RateLimiter

	rateLimitConfig := middleware.LoadConfig()
	if rateLimitConfig.Enabled {
		// Closed by the server on shutdown.
		rateLimiter = middleware.NewInMemoryRateLimiter(rateLimitConfig, logger)

		logger.Info("Rate limiter initialized",
			slog.Int("global_rps", rateLimitConfig.GlobalRPS),
			slog.Int("global_burst", rateLimitConfig.GlobalBurst),
			slog.Int("client_rps", rateLimitConfig.ClientRPS),
			slog.Int("client_burst", rateLimitConfig.ClientBurst),
			slog.Int("unauth_rps", rateLimitConfig.UnAuthRPS),
			slog.Int("unauth_burst", rateLimitConfig.UnAuthBurst),
		)
	}

	var verifierOpt middleware.KeyVerifier
	if verifier != nil {
		verifierOpt = verifier
	}

	server := api.NewServer(serverConfig, journal, verifierOpt, rateLimiter, api.WithLogger(logger))

	if err := server.Start(ctx); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))

		return 1
	}

	logger.Info("Lineage collector stopped")

	return 0
}

// openJournal connects to PostgreSQL and applies migrations when DATABASE_URL
// is set, and falls back to an in-memory journal otherwise.
func openJournal(logger *slog.Logger) (storage.Journal, func(), error) {
	storageConfig := storage.LoadConfig()

	if !storageConfig.Enabled() {
		logger.Warn("DATABASE_URL not set, events are kept in memory and lost on exit")

		journal := storage.NewMemoryJournal()

		return journal, func() { _ = journal.Close() }, nil
	}

	conn, err := storage.NewConnection(storageConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := storage.Migrate(conn.DB, logger); err != nil {
		_ = conn.Close()

		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}

	journal, err := storage.NewEventJournal(conn, storage.WithJournalLogger(logger))
	if err != nil {
		_ = conn.Close()

		return nil, nil, err
	}

	logger.Info("Event journal initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
		slog.Duration("database_conn_max_lifetime", storageConfig.ConnMaxLifetime),
		slog.Duration("database_conn_max_idle_time", storageConfig.ConnMaxIdleTime),
	)

	return journal, func() {
		_ = journal.Close()
		_ = conn.Close()
	}, nil
}
