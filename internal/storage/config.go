package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/correlator-io/openlineage-playground/internal/config"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
)

// ErrDatabaseURLEmpty is returned when the database url is an empty string.
var ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

// Config holds PostgreSQL connection settings for the event journal.
type Config struct {
	databaseURL     string
	MaxOpenConns    int           // Maximum number of open connections
	MaxIdleConns    int           // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of connections
	ConnMaxIdleTime time.Duration // Maximum idle time for connections
}

// LoadConfig loads PostgreSQL configuration from DATABASE_* environment variables
// with fallback to defaults. An unset DATABASE_URL yields a config whose
// Enabled reports false.
func LoadConfig() *Config {
	cfg := NewConfig(config.GetEnvStr("DATABASE_URL", ""))
	cfg.MaxOpenConns = config.GetEnvInt("DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns)
	cfg.MaxIdleConns = config.GetEnvInt("DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns)
	cfg.ConnMaxLifetime = config.GetEnvDuration("DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime)
	cfg.ConnMaxIdleTime = config.GetEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime)

	return cfg
}

// NewConfig returns a config for databaseURL with default pool settings.
func NewConfig(databaseURL string) *Config {
	return &Config{
		databaseURL:     strings.TrimSpace(databaseURL),
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
	}
}

// Enabled reports whether a database URL is configured.
func (c *Config) Enabled() bool {
	return c != nil && strings.TrimSpace(c.databaseURL) != ""
}

// Validate checks if the PostgreSQL configuration is valid.
func (c *Config) Validate() error {
	if !c.Enabled() {
		return ErrDatabaseURLEmpty
	}

	return nil
}

// MaskDatabaseURL returns the database URL with its password replaced by ***,
// safe for logging. The last '@' separates userinfo from host, so passwords
// containing '@' or '#' are masked whole.
func (c *Config) MaskDatabaseURL() string {
	if c == nil || c.databaseURL == "" {
		return ""
	}

	scheme, rest, ok := strings.Cut(c.databaseURL, "://")
	if !ok {
		return c.databaseURL
	}

	at := strings.LastIndex(rest, "@")
	if at == -1 {
		return c.databaseURL
	}

	username, password, hasPassword := strings.Cut(rest[:at], ":")
	if !hasPassword || password == "" {
		return c.databaseURL
	}

	return scheme + "://" + username + ":***" + rest[at:]
}
