package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/poshub/orders-api/internal/errors"
	"github.com/poshub/orders-api/internal/httputil"
	"github.com/poshub/orders-api/internal/logging"
)

// defaultIdleTTL is how long an unused client limiter survives a cleanup run.
const defaultIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client address.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	rate     rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
	logger   *logging.Logger
	cron     *cron.Cron
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(requestsPerSecond, burst int, logger *logging.Logger) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		idleTTL:  defaultIdleTTL,
		now:      time.Now,
		logger:   logger,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[key]
	if !exists {
		entry = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = rl.now()
	return entry.limiter
}

// Handler returns the rate limiting middleware handler
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)

		if !rl.getLimiter(key).Allow() {
			rl.logger.WithContext(r.Context()).WithFields(logrus.Fields{
				"client_ip": key,
				"path":      r.URL.Path,
				"method":    r.Method,
			}).Warn("rate_limit.exceeded")

			w.Header().Set("Retry-After", "1")
			httputil.WriteError(w, r, errors.TooManyRequests(
				fmt.Sprintf("Rate limit exceeded: %d requests per second", int(rl.rate))))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Cleanup drops limiters idle for longer than the idle TTL.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idleTTL)
	for key, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

// Size returns the number of tracked clients.
func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// CleanupRunning reports whether the cleanup schedule is active.
func (rl *RateLimiter) CleanupRunning() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.cron != nil
}

// StartCleanup runs Cleanup on the given cron schedule, e.g. "@every 5m".
func (rl *RateLimiter) StartCleanup(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, rl.Cleanup); err != nil {
		return fmt.Errorf("invalid rate limit cleanup schedule %q: %w", schedule, err)
	}
	c.Start()

	rl.mu.Lock()
	rl.cron = c
	rl.mu.Unlock()
	return nil
}

// Stop halts the cleanup schedule and waits for a running cleanup to finish.
func (rl *RateLimiter) Stop(ctx context.Context) {
	rl.mu.Lock()
	c := rl.cron
	rl.cron = nil
	rl.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}
