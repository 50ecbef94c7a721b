// Package api is the HTTP server of the local OpenLineage collector.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/correlator-io/openlineage-playground/internal/config"
)

const (
	defaultPort           int    = 5000
	maxPort               int    = 65535
	defaultHost           string = "0.0.0.0"
	defaultTimeout               = 30 * time.Second
	defaultLogLevel              = slog.LevelInfo
	defaultMaxRequestSize int64  = 1048576 // 1 MB
	defaultMaxBatchSize   int    = 1000
)

var (
	// ErrInvalidPort indicates the port number is outside valid range (1-65535).
	ErrInvalidPort = errors.New("invalid port")

	// ErrEmptyHost indicates the server host address is empty.
	ErrEmptyHost = errors.New("host cannot be empty")

	// ErrInvalidReadTimeout indicates the read timeout is zero or negative.
	ErrInvalidReadTimeout = errors.New("read timeout must be positive")

	// ErrInvalidWriteTimeout indicates the write timeout is zero or negative.
	ErrInvalidWriteTimeout = errors.New("write timeout must be positive")

	// ErrInvalidShutdownTimeout indicates the shutdown timeout is zero or negative.
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")

	// ErrInvalidMaxRequestSize indicates the max request size is zero or negative.
	ErrInvalidMaxRequestSize = errors.New("max request size must be positive")

	// ErrInvalidMaxBatchSize indicates the max batch size is zero or negative.
	ErrInvalidMaxBatchSize = errors.New("max batch size must be positive")
)

// ServerConfig holds HTTP server configuration. Runtime dependencies are
// passed to NewServer separately.
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	LogLevel        slog.Level

	// MaxRequestSize bounds the request body after gzip decoding.
	MaxRequestSize int64
	MaxBatchSize   int

	// Version is reported by /health and the X-Collector-Version header.
	Version string
}

// LoadServerConfig reads COLLECTOR_* environment variables.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            config.GetEnvInt("COLLECTOR_PORT", defaultPort),
		Host:            config.GetEnvStr("COLLECTOR_HOST", defaultHost),
		ReadTimeout:     config.GetEnvDuration("COLLECTOR_READ_TIMEOUT", defaultTimeout),
		WriteTimeout:    config.GetEnvDuration("COLLECTOR_WRITE_TIMEOUT", defaultTimeout),
		ShutdownTimeout: config.GetEnvDuration("COLLECTOR_SHUTDOWN_TIMEOUT", defaultTimeout),
		LogLevel:        config.GetEnvLogLevel("COLLECTOR_LOG_LEVEL", defaultLogLevel),
		MaxRequestSize:  config.GetEnvInt64("COLLECTOR_MAX_REQUEST_SIZE", defaultMaxRequestSize),
		MaxBatchSize:    config.GetEnvInt("COLLECTOR_MAX_BATCH_SIZE", defaultMaxBatchSize),
		Version:         "dev",
	}
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > maxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, maxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidReadTimeout, c.ReadTimeout)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidWriteTimeout, c.WriteTimeout)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	}

	if c.MaxRequestSize <= 0 {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidMaxRequestSize, c.MaxRequestSize)
	}

	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxBatchSize, c.MaxBatchSize)
	}

	return nil
}
