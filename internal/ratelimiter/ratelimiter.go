// Package ratelimiter throttles RPC calls with token buckets.
//
// Two layers are provided: a single RateLimiter for an adapter-wide ceiling
// and a Keyed limiter that gives every client address its own bucket so one
// chatty client cannot starve the rest.
package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// unlimited stands in for rate.Inf, which reports zero tokens and confuses
// callers that monitor Tokens().
const unlimited = 1_000_000_000

// RateLimiter wraps golang.org/x/time/rate.Limiter.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter allowing requestsPerSecond sustained calls with
// bursts up to burst.
//
// Special cases:
//   - requestsPerSecond = 0: No rate limiting (unlimited)
//   - burst = 0: burst defaults to requestsPerSecond
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		requestsPerSecond = unlimited
		burst = unlimited
	}
	if burst == 0 {
		burst = requestsPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow reports whether a call may proceed now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Tokens returns the current number of available tokens.
// The value may change immediately after this call.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

// Limits configures a Keyed limiter.
type Limits struct {
	// RequestsPerSecond is the adapter-wide sustained rate. 0 disables it.
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the adapter-wide bucket size.
	Burst uint `mapstructure:"burst" yaml:"burst"`

	// PerClientRequestsPerSecond is the sustained rate of each client
	// address. 0 disables per-client limiting.
	PerClientRequestsPerSecond uint `mapstructure:"per_client_requests_per_second" yaml:"per_client_requests_per_second"`

	// PerClientBurst is the bucket size of each client address.
	PerClientBurst uint `mapstructure:"per_client_burst" yaml:"per_client_burst"`

	// IdleEviction drops a client bucket unused for this long.
	// Default: 5m
	IdleEviction time.Duration `mapstructure:"idle_eviction" yaml:"idle_eviction"`
}

// Enabled reports whether any limit is configured.
func (l Limits) Enabled() bool {
	return l.RequestsPerSecond > 0 || l.PerClientRequestsPerSecond > 0
}

type clientBucket struct {
	limiter  *RateLimiter
	lastSeen time.Time
}

// Keyed applies an optional global limit and an optional per-key limit.
type Keyed struct {
	limits Limits
	global *RateLimiter

	mu      sync.Mutex
	clients map[string]*clientBucket
	now     func() time.Time
}

// NewKeyed creates a Keyed limiter from limits.
func NewKeyed(limits Limits) *Keyed {
	if limits.IdleEviction <= 0 {
		limits.IdleEviction = 5 * time.Minute
	}

	k := &Keyed{
		limits:  limits,
		clients: make(map[string]*clientBucket),
		now:     time.Now,
	}
	if limits.RequestsPerSecond > 0 {
		k.global = New(limits.RequestsPerSecond, limits.Burst)
	}
	return k
}

// Allow reports whether a call from key may proceed now. The per-client
// bucket is checked first so a rejected client does not drain the global
// bucket.
func (k *Keyed) Allow(key string) bool {
	if k.limits.PerClientRequestsPerSecond > 0 && !k.bucket(key).Allow() {
		return false
	}
	if k.global != nil && !k.global.Allow() {
		return false
	}
	return true
}

func (k *Keyed) bucket(key string) *RateLimiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	b, ok := k.clients[key]
	if !ok {
		b = &clientBucket{limiter: New(k.limits.PerClientRequestsPerSecond, k.limits.PerClientBurst)}
		k.clients[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// Evict drops client buckets idle for longer than IdleEviction and returns
// how many were removed.
func (k *Keyed) Evict() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	cutoff := k.now().Add(-k.limits.IdleEviction)
	removed := 0
	for key, b := range k.clients {
		if b.lastSeen.Before(cutoff) {
			delete(k.clients, key)
			removed++
		}
	}
	return removed
}

// Clients returns the number of tracked client buckets.
func (k *Keyed) Clients() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.clients)
}
