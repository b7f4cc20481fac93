package util

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket.
type Limiter struct {
	inner *rate.Limiter
}

// NewLimiter creates a limiter refilling r tokens per second up to burst b.
func NewLimiter(r float64, b int) *Limiter {
	return &Limiter{
		inner: rate.NewLimiter(rate.Limit(r), b),
	}
}

// Allow reports whether one event may happen now.
func (l *Limiter) Allow() bool {
	return l.inner.Allow()
}

// RetryAfter estimates how long until the next event would be allowed.
func (l *Limiter) RetryAfter() time.Duration {
	r := l.inner.Reserve()
	defer r.Cancel()
	return r.Delay()
}
