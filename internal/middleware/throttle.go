package middleware

import (
	"sync"
	"time"

	"github.com/aimerfeng/BioLink/internal/monitoring"
	"golang.org/x/time/rate"
)

// FailureThrottle limits invalid-credential attempts per client IP with a
// token bucket. Only failures spend tokens, so well-behaved clients are never
// slowed down.
type FailureThrottle struct {
	mu        sync.Mutex
	limiters  map[string]*throttleEntry
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewFailureThrottle allows perMinute failures per IP, refilled continuously.
// A non-positive perMinute disables throttling.
func NewFailureThrottle(perMinute int) *FailureThrottle {
	if perMinute <= 0 {
		return nil
	}
	return &FailureThrottle{
		limiters: make(map[string]*throttleEntry),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    perMinute,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

func (t *FailureThrottle) entry(ip string) *throttleEntry {
	now := t.now()
	if now.Sub(t.lastSweep) > t.idleTTL {
		for k, e := range t.limiters {
			if now.Sub(e.lastSeen) > t.idleTTL {
				delete(t.limiters, k)
			}
		}
		t.lastSweep = now
	}

	e, ok := t.limiters[ip]
	if !ok {
		e = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.limiters[ip] = e
	}
	e.lastSeen = now
	return e
}

// Blocked reports whether ip has used up its failure budget
func (t *FailureThrottle) Blocked(ip string) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.entry(ip).limiter.TokensAt(t.now()) < 1 {
		monitoring.RecordCredentialThrottled()
		return true
	}
	return false
}

// Fail spends one token of ip's failure budget
func (t *FailureThrottle) Fail(ip string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entry(ip).limiter.AllowN(t.now(), 1)
}
