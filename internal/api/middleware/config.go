package middleware

import (
	"time"

	"github.com/correlator-io/openlineage-playground/internal/config"
)

// Config holds rate limiter configuration.
//
// Rates are requests per second for three tiers: global, per authenticated
// client and unauthenticated. A burst of 0 means 2 x rate.
type Config struct {
	Enabled bool

	GlobalRPS int
	ClientRPS int
	UnAuthRPS int

	GlobalBurst int
	ClientBurst int
	UnAuthBurst int

	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	MaxClients      int
}

// LoadConfig reads the COLLECTOR_RATE_LIMIT_* and COLLECTOR_*_RPS variables.
func LoadConfig() *Config {
	return &Config{
		Enabled: config.GetEnvBool("COLLECTOR_RATE_LIMIT_ENABLED", true),

		GlobalRPS: config.GetEnvInt("COLLECTOR_GLOBAL_RPS", defaultGlobalRPS),
		ClientRPS: config.GetEnvInt("COLLECTOR_CLIENT_RPS", defaultClientRPS),
		UnAuthRPS: config.GetEnvInt("COLLECTOR_UNAUTH_RPS", defaultUnAuthRPS),

		GlobalBurst: config.GetEnvInt("COLLECTOR_GLOBAL_BURST", 0),
		ClientBurst: config.GetEnvInt("COLLECTOR_CLIENT_BURST", 0),
		UnAuthBurst: config.GetEnvInt("COLLECTOR_UNAUTH_BURST", 0),

		CleanupInterval: config.GetEnvDuration(
			"COLLECTOR_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("COLLECTOR_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxClients:  config.GetEnvInt("COLLECTOR_RATE_LIMIT_MAX_CLIENTS", maxClients),
	}
}
