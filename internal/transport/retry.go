package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/correlator-io/openlineage-playground/internal/config"
	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

const (
	defaultMaxAttempts     = 3
	defaultInitialInterval = 200 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
)

// RetryConfig bounds RetryTransport.
type RetryConfig struct {
	MaxAttempts     int // total attempts including the first
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}

	if c.InitialInterval <= 0 {
		c.InitialInterval = defaultInitialInterval
	}

	if c.MaxInterval <= 0 {
		c.MaxInterval = defaultMaxInterval
	}

	return c
}

// RetryTransport resends an event with exponential backoff while the wrapped
// transport reports a retriable *Error. Anything else is returned at once.
type RetryTransport struct {
	next   Transport
	cfg    RetryConfig
	logger *slog.Logger
}

// NewRetry wraps next.
func NewRetry(next Transport, cfg RetryConfig, logger *slog.Logger) *RetryTransport {
	if logger == nil {
		logger = config.DiscardLogger()
	}

	return &RetryTransport{next: next, cfg: cfg.withDefaults(), logger: logger}
}

func (t *RetryTransport) Emit(ctx context.Context, event *lineage.RunEvent) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = t.cfg.InitialInterval
	policy.MaxInterval = t.cfg.MaxInterval
	policy.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(t.cfg.MaxAttempts-1)), ctx)

	operation := func() error {
		err := t.next.Emit(ctx, event)
		if err != nil && !IsRetriable(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	notify := func(err error, wait time.Duration) {
		t.logger.Warn("Retrying lineage event delivery",
			slog.String("run_id", event.Run.ID),
			slog.String("event_type", string(event.EventType)),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
	}

	return backoff.RetryNotify(operation, b, notify)
}

// Close closes the wrapped transport.
func (t *RetryTransport) Close() error {
	return Close(t.next)
}
