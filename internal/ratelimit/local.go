package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalIPLimiter is a process-local, in-memory defense-in-depth layer that
// runs ahead of the Redis-backed sliding windows: a cheap per-IP token
// bucket that absorbs obvious floods before they ever reach the
// coordination store. It is intentionally process-local — in a
// horizontally scaled deployment each instance enforces its own 50 req/min
// ceiling per IP, on top of the shared burst window in §4.3.
type LocalIPLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*localVisitor
	ttl      time.Duration
	lookups  uint64
}

type localVisitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalIPLimiter constructs a per-IP limiter allowing ratePerMinute
// requests per minute with a matching burst allowance.
func NewLocalIPLimiter(ratePerMinute int) *LocalIPLimiter {
	if ratePerMinute <= 0 {
		ratePerMinute = 50
	}
	return &LocalIPLimiter{
		rps:      rate.Limit(float64(ratePerMinute) / 60.0),
		burst:    ratePerMinute,
		visitors: make(map[string]*localVisitor),
		ttl:      10 * time.Minute,
	}
}

// Allow reports whether ip may proceed, consuming a token if so.
func (l *LocalIPLimiter) Allow(ip string) bool {
	return l.visitor(ip).Allow()
}

func (l *LocalIPLimiter) visitor(ip string) *rate.Limiter {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.lookups++
	if l.lookups >= 5000 {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) >= l.ttl {
				delete(l.visitors, k)
			}
		}
		l.lookups = 0
	}

	if v, ok := l.visitors[ip]; ok {
		v.lastSeen = now
		return v.limiter
	}

	lim := rate.NewLimiter(l.rps, l.burst)
	l.visitors[ip] = &localVisitor{limiter: lim, lastSeen: now}
	return lim
}
