package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/revai/concierge/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Rate limit buckets. Each bucket keeps its own per-IP limiters.
const (
	BucketAPI  = "api"
	BucketAuth = "auth"
)

// clientLimiter holds a per-IP token bucket and the last time it was used
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per client IP with one token bucket per IP and bucket
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	limit    rate.Limit
	burst    int
	logger   *zap.Logger
	now      func() time.Time
}

// NewRateLimiter allows requests per window for each client, with bursts up to requests
func NewRateLimiter(requests int, window time.Duration, logger *zap.Logger) *RateLimiter {
	if requests <= 0 {
		requests = 100
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		limit:    rate.Limit(float64(requests) / window.Seconds()),
		burst:    requests,
		logger:   logger,
		now:      time.Now,
	}
}

func (l *RateLimiter) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.limiters[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = c
	}
	c.lastSeen = now
	return c.limiter
}

// Handler returns middleware enforcing the limit for bucket
func (l *RateLimiter) Handler(bucket string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := l.now()
			ip := ClientIP(r)
			limiter := l.get(bucket+"|"+ip, now)

			reservation := limiter.ReserveN(now, 1)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.burst))

			if delay := reservation.DelayFrom(now); delay > 0 {
				reservation.CancelAt(now)
				w.Header().Set("X-RateLimit-Remaining", "0")
				l.logger.Warn("rate limit exceeded",
					zap.String("request_id", GetRequestIDFromContext(r.Context())),
					zap.String("bucket", bucket),
					zap.String("client_ip", ip))
				_ = utils.WriteTooManyRequests(w, delay, "Too many requests, please try again later")
				return
			}

			remaining := int(limiter.TokensAt(now))
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			next.ServeHTTP(w, r)
		})
	}
}

// Len returns the number of tracked client limiters
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Sweep removes limiters idle for longer than maxIdle and returns how many were removed
func (l *RateLimiter) Sweep(maxIdle time.Duration) int {
	cutoff := l.now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, c := range l.limiters {
		if c.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker sweeps idle limiters every interval until stopCh is closed
func (l *RateLimiter) StartCleanupWorker(interval, maxIdle time.Duration, stopCh <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := l.Sweep(maxIdle); removed > 0 {
					l.logger.Debug("swept idle rate limiters", zap.Int("removed", removed))
				}
			case <-stopCh:
				return
			}
		}
	}()
}

// ClientIP returns the request's remote host. chi's RealIP has already applied proxy headers.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
