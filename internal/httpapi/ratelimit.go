package httpapi

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Hook clients fire a handful of requests per tool call and fall silent
// between sessions, so idle hosts are forgotten lazily on the request path
// rather than by a background goroutine.
const (
	limiterIdleCutoff    = 5 * time.Minute
	limiterPruneInterval = time.Minute
)

// RateLimiter throttles ingestion with one token bucket per remote host
// (the key allow() extracts from RemoteAddr). A non-positive rpm disables
// it entirely.
type RateLimiter struct {
	mu        sync.Mutex
	hosts     map[string]*hostBucket
	limit     rate.Limit
	burst     int
	lastPrune time.Time
	now       func() time.Time
}

type hostBucket struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rpm requests per minute per
// host, with burst headroom for the event clusters a single tool call
// produces.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	var limit rate.Limit
	if rpm > 0 {
		limit = rate.Limit(float64(rpm) / 60)
	}
	if burst <= 0 {
		burst = 10
	}
	return &RateLimiter{
		hosts: make(map[string]*hostBucket),
		limit: limit,
		burst: burst,
		now:   time.Now,
	}
}

// Allow reports whether a request from host fits its budget.
func (rl *RateLimiter) Allow(host string) bool {
	if rl.limit == 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.pruneLocked(now)

	hb, ok := rl.hosts[host]
	if !ok {
		hb = &hostBucket{bucket: rate.NewLimiter(rl.limit, rl.burst)}
		rl.hosts[host] = hb
	}
	hb.lastSeen = now

	if !hb.bucket.AllowN(now, 1) {
		slog.Warn("ingestion rate limited", "host", host)
		return false
	}
	return true
}

// pruneLocked forgets hosts quiet past the cutoff. Caller holds rl.mu.
func (rl *RateLimiter) pruneLocked(now time.Time) {
	if now.Sub(rl.lastPrune) < limiterPruneInterval {
		return
	}
	rl.lastPrune = now
	for host, hb := range rl.hosts {
		if now.Sub(hb.lastSeen) > limiterIdleCutoff {
			delete(rl.hosts, host)
		}
	}
}
