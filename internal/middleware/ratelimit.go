package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Limiter is a sliding-window per-key rate limiter used on the admin login
// endpoint to slow down credential guessing. State is pruned inline on each
// call; there is no background goroutine to stop.
type Limiter struct {
	mu        sync.Mutex
	hits      map[string][]time.Time
	limit     int
	span      time.Duration
	now       func() time.Time
	lastSweep time.Time
}

func NewLimiter(limit int, span time.Duration) *Limiter {
	return NewLimiterWithNow(limit, span, time.Now)
}

func NewLimiterWithNow(limit int, span time.Duration, now func() time.Time) *Limiter {
	return &Limiter{
		hits:  make(map[string][]time.Time),
		limit: limit,
		span:  span,
		now:   now,
	}
}

// Allow records an attempt for key and reports whether it is within the
// budget of the trailing window. Denied attempts are not recorded, so a
// client hammering the endpoint does not extend its own lockout.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	recent := prune(l.hits[key], now.Add(-l.span))
	if len(recent) >= l.limit {
		l.hits[key] = recent
		return false
	}
	l.hits[key] = append(recent, now)
	return true
}

// sweep drops keys whose every hit has aged out. Runs at most once per span
// so a burst of distinct keys cannot turn Allow quadratic.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.span {
		return
	}
	l.lastSweep = now
	cutoff := now.Add(-l.span)
	for key, times := range l.hits {
		if kept := prune(times, cutoff); len(kept) == 0 {
			delete(l.hits, key)
		} else {
			l.hits[key] = kept
		}
	}
}

// prune returns the suffix of times newer than cutoff. Times are appended in
// order, so the survivors are always a tail slice.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	for i, ts := range times {
		if ts.After(cutoff) {
			return times[i:]
		}
	}
	return nil
}

// RateLimit rejects requests over the per-IP budget with 429.
func RateLimit(l *Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}
