package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IPLimiter throttles clients by source IP with an in-process token bucket
// per address. It protects unauthenticated surfaces where no principal is
// available for the Redis limiter.
type IPLimiter struct {
	mu      sync.Mutex
	buckets map[string]*ipBucket

	limit rate.Limit
	burst int
	stop  chan struct{}
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPLimiter creates a limiter allowing n requests per period with the
// given burst. Idle buckets are reaped in the background.
func NewIPLimiter(n int, period time.Duration, burst int) *IPLimiter {
	if burst < 1 {
		burst = 1
	}
	l := &IPLimiter{
		buckets: make(map[string]*ipBucket),
		limit:   rate.Limit(float64(n) / period.Seconds()),
		burst:   burst,
		stop:    make(chan struct{}),
	}
	go l.reap(10 * time.Minute)
	return l
}

// Stop terminates the background reaper.
func (l *IPLimiter) Stop() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
}

// Allow reports whether a request from addr may proceed.
func (l *IPLimiter) Allow(addr string) bool {
	l.mu.Lock()
	b, ok := l.buckets[addr]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[addr] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	return b.limiter.Allow()
}

func (l *IPLimiter) reap(maxIdle time.Duration) {
	ticker := time.NewTicker(maxIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-maxIdle)
			l.mu.Lock()
			for addr, b := range l.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(l.buckets, addr)
				}
			}
			l.mu.Unlock()
		}
	}
}

// ClientIP extracts the client address for limiting, ignoring the port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
