package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RateLimiter guards the dashboard query surface from a runaway
// poller using a sliding-window-counter approximation: each key
// tracks a count for the current fixed minute window and the count
// from the previous one, weighted by how far into the current
// window "now" is. That avoids keeping a growing list of request
// timestamps per key.
type RateLimiter struct {
	logger  zerolog.Logger
	enabled bool
	rpm     int
	mu      sync.Mutex
	windows map[string]*rateWindow
}

type rateWindow struct {
	mu          sync.Mutex
	windowStart time.Time
	prevCount   int
	currCount   int
	lastSeen    time.Time
}

// NewRateLimiter builds a RateLimiter allowing rpm requests/minute/key.
func NewRateLimiter(logger zerolog.Logger, enabled bool, rpm int) *RateLimiter {
	return &RateLimiter{
		logger:  logger.With().Str("component", "rate_limiter").Logger(),
		enabled: enabled,
		rpm:     rpm,
		windows: make(map[string]*rateWindow),
	}
}

// Handler returns the rate limiting middleware.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.enabled {
			next.ServeHTTP(w, r)
			return
		}

		key := GetAPIKey(r.Context())
		if key == "" {
			key = r.RemoteAddr
		}

		allowed, remaining, resetAt := rl.allow(key)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.rpm))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			retryAfter := int(time.Until(resetAt).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			http.Error(w, fmt.Sprintf(`{"error":"rate_limit_exceeded","retry_after":%d}`, retryAfter), http.StatusTooManyRequests)
			rl.logger.Warn().Str("key", key).Int("limit", rl.rpm).Msg("rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) getWindow(key string) *rateWindow {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	w, ok := rl.windows[key]
	if !ok {
		w = &rateWindow{windowStart: time.Now().Truncate(time.Minute)}
		rl.windows[key] = w
	}
	return w
}

func (rl *RateLimiter) allow(key string) (bool, int, time.Time) {
	w := rl.getWindow(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.lastSeen = now
	curStart := now.Truncate(time.Minute)

	switch {
	case curStart.Equal(w.windowStart):
		// still inside the tracked window
	case curStart.Equal(w.windowStart.Add(time.Minute)):
		w.prevCount = w.currCount
		w.currCount = 0
		w.windowStart = curStart
	default:
		// more than one window has elapsed since the last request;
		// nothing from before is still relevant
		w.prevCount = 0
		w.currCount = 0
		w.windowStart = curStart
	}

	elapsedIntoWindow := now.Sub(curStart)
	weight := float64(time.Minute-elapsedIntoWindow) / float64(time.Minute)
	estimated := float64(w.prevCount)*weight + float64(w.currCount)
	resetAt := curStart.Add(time.Minute)

	if estimated >= float64(rl.rpm) {
		return false, 0, resetAt
	}

	w.currCount++
	remaining := rl.rpm - int(estimated) - 1
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining, resetAt
}

// Cleanup drops windows idle for more than two minutes; call it
// periodically so a key that stops polling doesn't hold memory
// forever.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-2 * time.Minute)
	for key, w := range rl.windows {
		w.mu.Lock()
		stale := w.lastSeen.Before(cutoff)
		w.mu.Unlock()
		if stale {
			delete(rl.windows, key)
		}
	}
}
