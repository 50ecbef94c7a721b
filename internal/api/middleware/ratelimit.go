package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int     = 2
	maxClients                 int     = 100
	defaultGlobalRPS           int     = 200
	defaultClientRPS           int     = 100
	defaultUnAuthRPS           int     = 20
	thresholdMultiplier        float64 = 0.8
	rateLimiterCleanupInterval         = 5 * time.Minute
	rateLimiterIdleTimeout             = 1 * time.Hour
	retryAfterSeconds                  = "1"
)

type (
	// RateLimiter decides whether a request may proceed. clientID is empty for
	// unauthenticated requests.
	RateLimiter interface {
		Allow(clientID string) bool
	}

	// InMemoryRateLimiter is a three-tier token bucket limiter: one global
	// bucket, one per client and one shared by unauthenticated requests.
	// Client buckets idle longer than IdleTimeout are dropped periodically.
	InMemoryRateLimiter struct {
		global          *rate.Limiter
		unauthenticated *rate.Limiter

		mu        sync.RWMutex
		perClient map[string]*clientLimiter

		cleanupTicker *time.Ticker
		done          chan struct{}
		closeOnce     sync.Once

		clientRPS   int
		clientBurst int
		idleTimeout time.Duration
		maxClients  int
		logger      *slog.Logger
	}

	clientLimiter struct {
		limiter    *rate.Limiter
		mu         sync.Mutex
		lastAccess time.Time
	}
)

// NewInMemoryRateLimiter starts the limiter and its cleanup goroutine. Burst
// sizes of 0 in cfg become 2 x rate. Close must be called to stop it.
func NewInMemoryRateLimiter(cfg *Config, logger *slog.Logger) *InMemoryRateLimiter {
	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	limit := cfg.MaxClients
	if limit <= 0 {
		limit = maxClients
	}

	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(cfg.GlobalRPS), computeBurstCapacity(cfg.GlobalRPS, cfg.GlobalBurst)),
		unauthenticated: rate.NewLimiter(rate.Limit(cfg.UnAuthRPS), computeBurstCapacity(cfg.UnAuthRPS, cfg.UnAuthBurst)),
		perClient:       make(map[string]*clientLimiter),
		cleanupTicker:   time.NewTicker(cleanupInterval),
		done:            make(chan struct{}),
		clientRPS:       cfg.ClientRPS,
		clientBurst:     computeBurstCapacity(cfg.ClientRPS, cfg.ClientBurst),
		idleTimeout:     idleTimeout,
		maxClients:      limit,
		logger:          logger,
	}

	go rl.cleanupLoop()

	return rl
}

// computeBurstCapacity returns burstOverride, or 2 x rate when it is 0.
func computeBurstCapacity(rate, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rate * burstCapacityMultiplier
}

// Allow checks the global bucket first, then the client's (or the
// unauthenticated) bucket.
func (rl *InMemoryRateLimiter) Allow(clientID string) bool {
	if !rl.global.Allow() {
		return false
	}

	if clientID == "" {
		return rl.unauthenticated.Allow()
	}

	cl := rl.clientLimiter(clientID)

	cl.mu.Lock()
	cl.lastAccess = time.Now()
	cl.mu.Unlock()

	return cl.limiter.Allow()
}

func (rl *InMemoryRateLimiter) clientLimiter(clientID string) *clientLimiter {
	rl.mu.RLock()
	cl, ok := rl.perClient[clientID]
	rl.mu.RUnlock()

	if ok {
		return cl
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if cl, ok = rl.perClient[clientID]; ok {
		return cl
	}

	cl = &clientLimiter{
		limiter:    rate.NewLimiter(rate.Limit(rl.clientRPS), rl.clientBurst),
		lastAccess: time.Now(),
	}
	rl.perClient[clientID] = cl

	if count := len(rl.perClient); count >= int(float64(rl.maxClients)*thresholdMultiplier) {
		rl.logger.Warn("Rate limiter approaching max clients limit",
			slog.Int("current_clients", count),
			slog.Int("max_clients", rl.maxClients),
		)
	}

	return cl
}

// Len returns the number of tracked client buckets.
func (rl *InMemoryRateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return len(rl.perClient)
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (rl *InMemoryRateLimiter) Close() error {
	rl.closeOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.done)
	})

	return nil
}

func (rl *InMemoryRateLimiter) cleanupLoop() {
	for {
		select {
		case <-rl.cleanupTicker.C:
			rl.cleanup(time.Now())
		case <-rl.done:
			return
		}
	}
}

// cleanup removes client buckets not used since now - idleTimeout.
func (rl *InMemoryRateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for clientID, cl := range rl.perClient {
		cl.mu.Lock()
		idle := now.Sub(cl.lastAccess)
		cl.mu.Unlock()

		if idle > rl.idleTimeout {
			delete(rl.perClient, clientID)
		}
	}
}

// RateLimit answers 429 with an RFC 7807 body when limiter refuses a request.
// It must run after Authenticate to see the client id. Public paths are never
// limited, so probes keep working under load.
func RateLimit(limiter RateLimiter, public PublicPaths, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public.Contains(r.URL.Path) {
				next.ServeHTTP(w, r)

				return
			}

			clientID := ""
			if client, ok := GetClientContext(r.Context()); ok {
				clientID = client.ClientID
			}

			if limiter.Allow(clientID) {
				next.ServeHTTP(w, r)

				return
			}

			correlationID := GetCorrelationID(r.Context())
			detail := "Rate limit exceeded. Please retry after some time."

			logger.Warn("Request rate limited",
				slog.String("client_id", clientID),
				slog.String("path", r.URL.Path),
				slog.String("correlation_id", correlationID),
			)

			w.Header().Set("Retry-After", retryAfterSeconds)

			if err := writeProblem(w, r, http.StatusTooManyRequests, detail); err != nil {
				logger.Error("Failed to write rate limit response",
					slog.String("correlation_id", correlationID),
					slog.String("error", err.Error()),
				)
			}
		})
	}
}
