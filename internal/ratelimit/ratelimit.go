package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/screenhub/screen-hub-go/internal/api"
	"github.com/screenhub/screen-hub-go/internal/apperrors"
	"github.com/screenhub/screen-hub-go/internal/auth"
)

// Limiter throttles requests per caller identity. Authenticated callers are
// keyed by token subject, anonymous ones by remote address. State is
// in-memory per process; a multi-node deployment throttles per node.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*entry

	perMinute int
	burst     int

	stop     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a new Limiter allowing perMinute sustained requests with
// the given burst per identity.
func NewLimiter(perMinute, burst int) *Limiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = perMinute
	}
	l := &Limiter{
		limiters:  make(map[string]*entry),
		perMinute: perMinute,
		burst:     burst,
		stop:      make(chan struct{}),
	}
	go l.evictLoop()
	return l
}

// Stop ends the eviction loop. Safe to call more than once; Allow keeps
// working afterwards.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Allow reports whether the identity may proceed.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.limiters[key]
	if !ok {
		e = &entry{
			limiter: rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.burst),
		}
		l.limiters[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

// evictLoop drops identities idle long enough for their buckets to refill.
// Runs until Stop.
func (l *Limiter) evictLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			l.mu.Lock()
			for key, e := range l.limiters {
				if e.lastSeen.Before(cutoff) {
					delete(l.limiters, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Middleware enforces the limit on every request that passes through it.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(identityKey(r)) {
			api.WriteError(w, r, apperrors.NewRateLimitError("Too many requests", retryAfterSeconds(l.perMinute)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func identityKey(r *http.Request) string {
	if caller, ok := auth.UserFromContext(r.Context()); ok && caller.Sub != "" {
		return "sub:" + caller.Sub
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "addr:" + r.RemoteAddr
	}
	return "addr:" + host
}

func retryAfterSeconds(perMinute int) int {
	seconds := 60 / perMinute
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
