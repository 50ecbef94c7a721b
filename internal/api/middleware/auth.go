package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/correlator-io/openlineage-playground/internal/storage"
)

// Authentication errors. Both map to 401 so a caller cannot tell a wrong key
// from a missing one by status alone.
var (
	ErrMissingAPIKey = errors.New("missing API key")
	ErrInvalidAPIKey = errors.New("invalid API key")
)

type (
	// KeyVerifier checks a presented API key and names the client it belongs to.
	KeyVerifier interface {
		Verify(apiKey string) (clientID string, ok bool)
	}

	// HashVerifier accepts keys matching one of the bcrypt hashes, as produced
	// by storage.HashAPIKey. The client id is "key-<index>".
	HashVerifier struct {
		Hashes []string
	}

	// AuthError represents an authentication error with a specific type.
	AuthError struct {
		Type    error
		Message string
	}

	// ClientContext is stored in the request context after authentication.
	ClientContext struct {
		ClientID string
		AuthTime time.Time
	}

	clientContextKey struct{}

	// PublicPaths are request paths that bypass authentication and rate limiting.
	PublicPaths map[string]struct{}
)

// NewHashVerifier drops blank hashes; it returns nil when none remain.
func NewHashVerifier(hashes []string) *HashVerifier {
	kept := make([]string, 0, len(hashes))

	for _, h := range hashes {
		if h = strings.TrimSpace(h); h != "" {
			kept = append(kept, h)
		}
	}

	if len(kept) == 0 {
		return nil
	}

	return &HashVerifier{Hashes: kept}
}

// Verify compares the key with every hash so the time taken does not depend
// on which one matched.
func (v *HashVerifier) Verify(apiKey string) (string, bool) {
	clientID := ""

	for i, hash := range v.Hashes {
		if storage.CompareAPIKeyHash(hash, apiKey) && clientID == "" {
			clientID = "key-" + strconv.Itoa(i)
		}
	}

	return clientID, clientID != ""
}

// Error implements the error interface for AuthError.
func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authentication failed: %s: %s", e.Type.Error(), e.Message)
	}

	return "authentication failed: " + e.Type.Error()
}

// Unwrap returns the wrapped error type.
func (e *AuthError) Unwrap() error {
	return e.Type
}

// NewPublicPaths builds a PublicPaths set.
func NewPublicPaths(paths ...string) PublicPaths {
	set := make(PublicPaths, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}

	return set
}

// Contains reports whether path bypasses auth. A nil set contains nothing.
func (p PublicPaths) Contains(path string) bool {
	_, ok := p[path]

	return ok
}

// GetClientContext returns the authenticated client, if any.
func GetClientContext(ctx context.Context) (ClientContext, bool) {
	client, ok := ctx.Value(clientContextKey{}).(ClientContext)

	return client, ok
}

// SetClientContext returns ctx carrying client.
func SetClientContext(ctx context.Context, client ClientContext) context.Context {
	return context.WithValue(ctx, clientContextKey{}, client)
}

// extractAPIKey reads X-Api-Key first, then "Authorization: Bearer <key>".
// Keys containing CR or LF are rejected.
func extractAPIKey(r *http.Request) (string, bool) {
	if apiKey := r.Header.Get("X-Api-Key"); apiKey != "" {
		return cleanAPIKey(apiKey)
	}

	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return cleanAPIKey(token)
	}

	return "", false
}

func cleanAPIKey(key string) (string, bool) {
	if strings.ContainsAny(key, "\r\n") {
		return "", false
	}

	key = strings.TrimSpace(key)

	return key, key != ""
}

// Authenticate rejects requests to non-public paths that do not carry a key
// accepted by verifier.
func Authenticate(verifier KeyVerifier, public PublicPaths, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public.Contains(r.URL.Path) {
				next.ServeHTTP(w, r)

				return
			}

			apiKey, found := extractAPIKey(r)
			if !found {
				writeAuthError(w, r, logger, &AuthError{Type: ErrMissingAPIKey})

				return
			}

			authStart := time.Now()

			clientID, ok := verifier.Verify(apiKey)
			if !ok {
				writeAuthError(w, r, logger, &AuthError{Type: ErrInvalidAPIKey})

				return
			}

			logger.Debug("API key authenticated",
				slog.String("client_id", clientID),
				slog.String("key", storage.MaskKey(apiKey)),
				slog.Duration("auth_latency", time.Since(authStart)),
				slog.String("correlation_id", GetCorrelationID(r.Context())),
			)

			ctx := SetClientContext(r.Context(), ClientContext{ClientID: clientID, AuthTime: authStart})

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err *AuthError) {
	correlationID := GetCorrelationID(r.Context())

	logger.Warn("Authentication failed",
		slog.String("reason", err.Error()),
		slog.String("correlation_id", correlationID),
		slog.String("endpoint", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)

	w.Header().Set("WWW-Authenticate", `Bearer realm="lineage-collector"`)

	if encodeErr := writeProblem(w, r, http.StatusUnauthorized, err.Error()); encodeErr != nil {
		logger.Error("Failed to encode authentication error response",
			slog.String("correlation_id", correlationID),
			slog.String("error", encodeErr.Error()),
		)
	}
}
