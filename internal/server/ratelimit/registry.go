// Package ratelimit keeps per-client token buckets for the control plane.
// A Registry is created once by the server and passed to the HTTP layer.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxKeys = 10000
	// idleTTL drops buckets of clients that have gone quiet.
	idleTTL = 15 * time.Minute
)

// Rule is one token bucket: PerMinute sustained requests with Burst headroom.
// A zero PerMinute disables limiting for the prefix.
type Rule struct {
	PerMinute int
	Burst     int
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Registry maps (prefix, key) pairs to limiters.
type Registry struct {
	mu       sync.Mutex
	rules    map[string]Rule
	limiters *expirable.LRU[string, *rate.Limiter]
	now      func() time.Time
}

// NewRegistry builds a registry tracking at most maxKeys buckets. A bucket
// is dropped after it has gone unused for 15 minutes.
func NewRegistry(rules map[string]Rule, maxKeys int) *Registry {
	return newRegistry(rules, maxKeys, idleTTL)
}

func newRegistry(rules map[string]Rule, maxKeys int, ttl time.Duration) *Registry {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	cp := make(map[string]Rule, len(rules))
	for k, v := range rules {
		cp[k] = v
	}
	return &Registry{
		rules:    cp,
		limiters: expirable.NewLRU[string, *rate.Limiter](maxKeys, nil, ttl),
		now:      time.Now,
	}
}

// Allow consumes one token from the bucket of key under prefix.
func (r *Registry) Allow(prefix, key string) Decision {
	rule, ok := r.rules[prefix]
	if !ok || rule.PerMinute <= 0 {
		return Decision{Allowed: true, Remaining: math.MaxInt32}
	}

	lim := r.limiter(prefix, rule, key)
	now := r.now()

	res := lim.ReserveN(now, 1)
	if !res.OK() {
		return Decision{RetryAfter: time.Minute}
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return Decision{RetryAfter: roundUp(delay)}
	}

	return Decision{Allowed: true, Remaining: max(0, int(math.Floor(lim.TokensAt(now))))}
}

func (r *Registry) limiter(prefix string, rule Rule, key string) *rate.Limiter {
	id := prefix + "|" + key

	r.mu.Lock()
	defer r.mu.Unlock()

	// Get does not extend the expiry; re-adding does, so a busy client
	// keeps its drained bucket.
	if lim, ok := r.limiters.Get(id); ok {
		r.limiters.Add(id, lim)
		return lim
	}
	burst := rule.Burst
	if burst <= 0 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Every(time.Minute/time.Duration(rule.PerMinute)), burst)
	r.limiters.Add(id, lim)
	return lim
}

// Len reports how many buckets are tracked.
func (r *Registry) Len() int { return r.limiters.Len() }

// Close drops every bucket.
func (r *Registry) Close() {
	r.limiters.Purge()
}

func roundUp(d time.Duration) time.Duration {
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	return d
}
