package transport

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/correlator-io/openlineage-playground/internal/config"
)

const (
	// DefaultConfigPath is read when OPENLINEAGE_CONFIG is unset.
	DefaultConfigPath = "openlineage.yml"

	// Environment overrides.
	ConfigPathEnvVar = "OPENLINEAGE_CONFIG"
	URLEnvVar        = "OPENLINEAGE_URL"
	EndpointEnvVar   = "OPENLINEAGE_ENDPOINT"
	APIKeyEnvVar     = "OPENLINEAGE_API_KEY" // pragma: allowlist secret
	DisabledEnvVar   = "OPENLINEAGE_DISABLED"

	authTypeAPIKey = "api_key"
)

var (
	// ErrUnknownTransportType is returned for a transport type this package does not build.
	ErrUnknownTransportType = errors.New("unknown transport type")
	// ErrEmptyComposite is returned for a composite transport without children.
	ErrEmptyComposite = errors.New("composite transport requires at least one child transport")
	// ErrUnknownAuthType is returned for auth types other than api_key.
	ErrUnknownAuthType = errors.New("unknown auth type")
)

// Config is the openlineage.yml document.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
}

// TransportConfig describes one transport. Only the fields of the selected
// type are read.
//
//nolint:tagliatelle // snake_case is intentional for YAML config files
type TransportConfig struct {
	Type string `yaml:"type"`

	// http
	URL           string            `yaml:"url,omitempty"`
	Endpoint      string            `yaml:"endpoint,omitempty"`
	Timeout       float64           `yaml:"timeout,omitempty"` // seconds
	Verify        *bool             `yaml:"verify,omitempty"`
	Compression   string            `yaml:"compression,omitempty"`
	Auth          *AuthConfig       `yaml:"auth,omitempty"`
	CustomHeaders map[string]string `yaml:"custom_headers,omitempty"`

	// file
	LogFilePath string `yaml:"log_file_path,omitempty"`
	Append      bool   `yaml:"append,omitempty"`

	// kafka
	Brokers []string `yaml:"brokers,omitempty"`
	Topic   string   `yaml:"topic,omitempty"`

	// journal; empty falls back to DATABASE_URL
	DSN string `yaml:"dsn,omitempty"`

	// composite
	Transports        []TransportConfig `yaml:"transports,omitempty"`
	ContinueOnFailure bool              `yaml:"continue_on_failure,omitempty"`

	// any type
	Retry *RetrySettings `yaml:"retry,omitempty"`
}

// AuthConfig selects an auth provider for the http transport.
type AuthConfig struct {
	Type   string `yaml:"type"`
	APIKey string `yaml:"apiKey"` // pragma: allowlist secret
}

// RetrySettings enables RetryTransport around a transport.
//
//nolint:tagliatelle // snake_case is intentional for YAML config files
type RetrySettings struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// DefaultConfig prints events to the console.
func DefaultConfig() *Config {
	return &Config{Transport: TransportConfig{Type: TypeConsole}}
}

// LoadConfig reads a config file. A missing or empty file yields DefaultConfig;
// an unreadable, malformed or invalid file is an error.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}

		return nil, fmt.Errorf("read transport config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse transport config %s: %w", path, err)
	}

	if cfg.Transport.Type == "" {
		cfg.Transport.Type = TypeConsole
	}

	if err := cfg.Transport.Validate(); err != nil {
		return nil, fmt.Errorf("transport config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadConfigFromEnv loads the file named by OPENLINEAGE_CONFIG (default
// openlineage.yml) and applies the environment overrides.
func LoadConfigFromEnv() (*Config, error) {
	cfg, err := LoadConfig(config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath))
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnv()

	return cfg, nil
}

// ApplyEnv applies OPENLINEAGE_* overrides: OPENLINEAGE_DISABLED selects the
// noop transport; OPENLINEAGE_URL replaces the transport with http, optionally
// with OPENLINEAGE_ENDPOINT and an OPENLINEAGE_API_KEY bearer token.
func (c *Config) ApplyEnv() {
	if config.GetEnvBool(DisabledEnvVar, false) {
		c.Transport = TransportConfig{Type: TypeNoop}

		return
	}

	url := config.GetEnvStr(URLEnvVar, "")
	if url == "" {
		return
	}

	tc := TransportConfig{
		Type:     TypeHTTP,
		URL:      url,
		Endpoint: config.GetEnvStr(EndpointEnvVar, ""),
	}

	if key := config.GetEnvStr(APIKeyEnvVar, ""); key != "" {
		tc.Auth = &AuthConfig{Type: authTypeAPIKey, APIKey: key}
	}

	c.Transport = tc
}

// Validate checks the fields required by the selected type, recursively for
// composite children.
func (tc *TransportConfig) Validate() error {
	switch tc.Type {
	case TypeHTTP:
		if tc.URL == "" {
			return ErrMissingURL
		}

		if tc.Compression != CompressionNone && tc.Compression != CompressionGzip {
			return fmt.Errorf("%w: %q", ErrUnknownCompression, tc.Compression)
		}

		if tc.Auth != nil && tc.Auth.Type != authTypeAPIKey {
			return fmt.Errorf("%w: %q", ErrUnknownAuthType, tc.Auth.Type)
		}
	case TypeFile:
		if tc.LogFilePath == "" {
			return ErrMissingLogFilePath
		}
	case TypeKafka:
		if len(tc.Brokers) == 0 {
			return ErrMissingBrokers
		}
	case TypeComposite:
		if len(tc.Transports) == 0 {
			return ErrEmptyComposite
		}

		for i := range tc.Transports {
			if err := tc.Transports[i].Validate(); err != nil {
				return fmt.Errorf("transports[%d]: %w", i, err)
			}
		}
	case TypeConsole, TypeJournal, TypeNoop:
	default:
		return fmt.Errorf("%w: %q (want one of %v)", ErrUnknownTransportType, tc.Type, Types())
	}

	return nil
}

// Types lists the supported transport types.
func Types() []string {
	types := []string{TypeHTTP, TypeFile, TypeConsole, TypeKafka, TypeJournal, TypeComposite, TypeNoop}
	slices.Sort(types)

	return types
}

func (tc *TransportConfig) httpConfig() HTTPConfig {
	cfg := HTTPConfig{
		URL:         tc.URL,
		Endpoint:    tc.Endpoint,
		Timeout:     time.Duration(tc.Timeout * float64(time.Second)),
		Verify:      tc.Verify == nil || *tc.Verify,
		Compression: tc.Compression,
		Headers:     tc.CustomHeaders,
	}

	if tc.Auth != nil {
		cfg.Auth = APIKeyTokenProvider{APIKey: tc.Auth.APIKey}
	}

	return cfg
}
