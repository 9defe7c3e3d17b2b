package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// entry tracks a per-key rate limiter and when it was last used.
type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a keyed rate limiter — one rate.Limiter per key (IP or agent ID).
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	rate    rate.Limit
	burst   int
}

// NewLimiter creates a keyed rate limiter with the given rate and burst.
func NewLimiter(r rate.Limit, burst int) *Limiter {
	l := &Limiter{
		entries: make(map[string]*entry),
		rate:    r,
		burst:   burst,
	}
	go l.cleanup()
	return l
}

// Allow checks whether a request for the given key is allowed.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()
	return e.limiter.Allow()
}

// cleanup evicts entries idle for more than 30 minutes, every 10 minutes.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	for range ticker.C {
		l.mu.Lock()
		cutoff := time.Now().Add(-30 * time.Minute)
		for k, e := range l.entries {
			if e.lastSeen.Before(cutoff) {
				delete(l.entries, k)
			}
		}
		l.mu.Unlock()
	}
}

// Named limiters — one per access tier/endpoint class from spec.md §7
// (RateLimited is "per-route policy-driven").
var (
	// PublicFeedRead: anonymous feed list/search/get, keyed by IP.
	PublicFeedRead = NewLimiter(rate.Limit(60.0/60.0), 20)

	// SigningRequestCreate: keyed by agent identityId.
	SigningRequestCreate = NewLimiter(rate.Limit(20.0/60.0), 5)

	// VoucherIssue: keyed by issuer identityId; the issuer cap (§4.4) is
	// the durable control, this just smooths bursts.
	VoucherIssue = NewLimiter(rate.Limit(10.0/60.0), 3)

	// RecoveryAttempt: unauthenticated, keyed by IP. Kept tight because
	// every attempt costs an Ed25519 verify on both branches
	// (anti-enumeration timing, spec.md §7).
	RecoveryAttempt = NewLimiter(rate.Limit(5.0/60.0), 3)
)
