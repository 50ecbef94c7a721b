package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recovery turns a handler panic into a logged 500 problem response.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}

				correlationID := GetCorrelationID(r.Context())

				logger.Error("HTTP request panic recovered",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("correlation_id", correlationID),
					slog.Any("panic", recovered),
					slog.String("stack_trace", string(debug.Stack())),
				)

				err := writeProblem(w, r, http.StatusInternalServerError,
					"An unexpected error occurred while processing the request")
				if err != nil {
					logger.Error("Failed to encode error response",
						slog.String("correlation_id", correlationID),
						slog.String("error", err.Error()),
					)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
