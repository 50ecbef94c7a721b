package middleware

import (
	"log/slog"
	"net/http"
)

// Option wraps a handler with one middleware.
type Option func(http.Handler) http.Handler

// Apply wraps handler so the first option is the outermost middleware.
//
//	handler := middleware.Apply(mux,
//	    middleware.WithCorrelationID(),
//	    middleware.WithRecovery(logger),
//	    middleware.WithAuth(verifier, public, logger),
//	    middleware.WithRateLimit(limiter, public, logger),
//	    middleware.WithRequestLogger(logger),
//	)
func Apply(handler http.Handler, options ...Option) http.Handler {
	for i := len(options) - 1; i >= 0; i-- {
		handler = options[i](handler)
	}

	return handler
}

func passthrough(next http.Handler) http.Handler {
	return next
}

// WithCorrelationID returns an option that adds correlation ID middleware.
func WithCorrelationID() Option {
	return CorrelationID()
}

// WithRecovery returns an option that adds panic recovery middleware.
func WithRecovery(logger *slog.Logger) Option {
	return Recovery(logger)
}

// WithAuth adds API key authentication. A nil verifier disables it.
func WithAuth(verifier KeyVerifier, public PublicPaths, logger *slog.Logger) Option {
	if isNil(verifier) {
		return passthrough
	}

	return Authenticate(verifier, public, logger)
}

// WithRateLimit adds rate limiting. A nil limiter disables it.
func WithRateLimit(limiter RateLimiter, public PublicPaths, logger *slog.Logger) Option {
	if isNil(limiter) {
		return passthrough
	}

	return RateLimit(limiter, public, logger)
}

// WithRequestLogger returns an option that adds request logging middleware.
func WithRequestLogger(logger *slog.Logger) Option {
	return RequestLogger(logger)
}

// isNil also catches typed nil pointers stored in the interface.
func isNil(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case *HashVerifier:
		return t == nil
	case *InMemoryRateLimiter:
		return t == nil
	}

	return false
}
