// Package ratelimit throttles webhook senders with one token bucket per client IP.
package ratelimit

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/telekom/kintone-mail-relay/pkg/apiresponses"
	"github.com/telekom/kintone-mail-relay/pkg/config"
	"github.com/telekom/kintone-mail-relay/pkg/metrics"
)

const (
	DefaultRate  = 20
	DefaultBurst = 50

	sweepInterval = time.Minute
	idleTTL       = 5 * time.Minute
)

// Settings resolves server.rateLimit, filling zero values with the defaults.
func Settings(rl config.RateLimit) (rate.Limit, int) {
	r, burst := rl.Rate, rl.Burst
	if r <= 0 {
		r = DefaultRate
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return rate.Limit(r), burst
}

type bucket struct {
	*rate.Limiter
	seen time.Time
}

// ClientLimiter keeps a token bucket per client IP and forgets clients that
// have been idle for idleTTL.
type ClientLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once
}

// New starts a limiter for server.rateLimit. Call Stop to end its sweeper.
func New(rl config.RateLimit) *ClientLimiter {
	l := newClientLimiter(rl, time.Now)
	go l.sweepEvery(sweepInterval)
	return l
}

func newClientLimiter(rl config.RateLimit, now func() time.Time) *ClientLimiter {
	limit, burst := Settings(rl)
	return &ClientLimiter{
		limit:   limit,
		burst:   burst,
		now:     now,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
}

// Allow takes one token from ip's bucket.
func (l *ClientLimiter) Allow(ip string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{Limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
		metrics.RateLimitClients.Set(float64(len(l.buckets)))
	}
	b.seen = now
	return b.AllowN(now, 1)
}

// Middleware rejects requests over the client's budget with 429 RATE_LIMITED.
func (l *ClientLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.Allow(c.ClientIP()) {
			c.Next()
			return
		}
		metrics.RateLimited.WithLabelValues(c.FullPath()).Inc()
		apiresponses.RespondTooManyRequests(c)
		c.Abort()
	}
}

// Stop ends the sweeper. It is safe to call more than once.
func (l *ClientLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *ClientLimiter) sweepEvery(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep drops buckets idle for longer than idleTTL.
func (l *ClientLimiter) sweep() {
	cutoff := l.now().Add(-idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, ip)
		}
	}
	metrics.RateLimitClients.Set(float64(len(l.buckets)))
}

func (l *ClientLimiter) clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
