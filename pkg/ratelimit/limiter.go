// Package ratelimit throttles channel publishes per key. An in-process store
// suits a single device or CLI; the Redis store shares buckets between
// processor instances publishing for the same agent.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned by Check when the key has no tokens left.
var ErrRateLimited = errors.New("ratelimit: rate limit exceeded")

// Policy is a token bucket: PerSecond tokens are added each second, up to
// Burst.
type Policy struct {
	PerSecond float64
	Burst     int
}

// DefaultPolicy allows a publish every 200ms with bursts of 10.
var DefaultPolicy = Policy{PerSecond: 5, Burst: 10}

func (p Policy) normalized() Policy {
	if p.PerSecond <= 0 {
		p.PerSecond = 1
	}
	if p.Burst <= 0 {
		p.Burst = 1
	}
	return p
}

// LimiterStore abstracts the storage for rate limiting buckets.
type LimiterStore interface {
	// Allow reports whether key may spend cost tokens, consuming them if so.
	Allow(ctx context.Context, key string, policy Policy, cost int) (bool, error)
}

// Check spends one token for key. A nil store allows everything.
func Check(ctx context.Context, store LimiterStore, key string, policy Policy) error {
	if store == nil {
		return nil
	}
	allowed, err := store.Allow(ctx, key, policy, 1)
	if err != nil {
		return fmt.Errorf("ratelimit check failed: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%w for %s", ErrRateLimited, key)
	}
	return nil
}

// InMemoryLimiterStore keeps one limiter per key in process memory.
type InMemoryLimiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func NewInMemoryLimiterStore() *InMemoryLimiterStore {
	return &InMemoryLimiterStore{
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

// Allow creates the key's limiter from policy on first use. Later calls keep
// the limiter's original policy.
func (s *InMemoryLimiterStore) Allow(_ context.Context, key string, policy Policy, cost int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lim, exists := s.limiters[key]
	if !exists {
		p := policy.normalized()
		lim = rate.NewLimiter(rate.Limit(p.PerSecond), p.Burst)
		s.limiters[key] = lim
	}
	return lim.AllowN(s.now(), cost), nil
}

// Options selects a store.
type Options struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// NewStore returns a Redis store when an address is configured, otherwise
// an in-memory one.
func NewStore(opts Options) LimiterStore {
	if opts.RedisAddr != "" {
		return NewRedisLimiterStore(opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
	}
	return NewInMemoryLimiterStore()
}
