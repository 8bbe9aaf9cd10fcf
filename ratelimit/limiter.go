// Package ratelimit implements fixed-window request admission control with
// pluggable counter stores: an in-process map for single-node deployments
// and a Redis-backed store with the identical contract for distributed
// ones. The limiter fails open: if its own bookkeeping errors, the request
// is allowed.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"
)

// Config defines one rate-limit category.
type Config struct {
	MaxRequests int
	Window      time.Duration
	Message     string
}

// Built-in endpoint categories.
const (
	CategoryAuth   = "auth"
	CategoryTrade  = "trade"
	CategoryRead   = "read"
	CategoryFollow = "follow"
)

// Categories maps endpoint category to its window and limit.
var Categories = map[string]Config{
	CategoryAuth:   {MaxRequests: 5, Window: 15 * time.Minute, Message: "Too many authentication attempts, please try again later"},
	CategoryTrade:  {MaxRequests: 10, Window: time.Minute, Message: "Trade submission limit reached, please slow down"},
	CategoryRead:   {MaxRequests: 60, Window: time.Minute, Message: "Too many requests, please slow down"},
	CategoryFollow: {MaxRequests: 5, Window: time.Minute, Message: "Follow management limit reached, please try again later"},
}

// Store is the counter backend. Implementations must use atomic
// increment semantics, not read-then-write.
type Store interface {
	// Increment atomically increments key and returns the new count. The
	// entry expires after ttl.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns the current count for key, 0 when absent.
	Get(ctx context.Context, key string) (int64, error)
	// Sweep reclaims expired entries. Backends with native expiry may
	// no-op.
	Sweep(ctx context.Context) error
}

// Result is the admission decision for one request.
type Result struct {
	Allowed           bool
	Limit             int
	Remaining         int
	ResetAt           time.Time
	RetryAfterSeconds int
	Message           string
}

// Limiter applies fixed-window admission control over a Store.
type Limiter struct {
	store Store
}

// NewLimiter creates a limiter over the given store.
func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store}
}

// window computes the current window index and its end.
func window(cfg Config, now time.Time) (index int64, resetAt time.Time) {
	windowMs := cfg.Window.Milliseconds()
	index = now.UnixMilli() / windowMs
	resetAt = time.UnixMilli((index + 1) * windowMs).UTC()
	return index, resetAt
}

func key(identifier, category string, index int64) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", category, identifier, index)
}

// Consume counts the current request against the identifier's window and
// decides admission. Once the count exceeds the limit the result carries
// the configured message and a retry hint. Store failures fail open with
// full remaining quota.
func (l *Limiter) Consume(ctx context.Context, identifier, category string) Result {
	cfg, ok := Categories[category]
	if !ok {
		cfg = Categories[CategoryRead]
	}

	now := time.Now()
	index, resetAt := window(cfg, now)

	count, err := l.store.Increment(ctx, key(identifier, category, index), cfg.Window+time.Second)
	if err != nil {
		// Availability over strictness: a broken limiter must not take the
		// API down with it.
		log.Printf("[RateLimit] Store error (failing open): %v", err)
		return Result{
			Allowed:   true,
			Limit:     cfg.MaxRequests,
			Remaining: cfg.MaxRequests,
			ResetAt:   resetAt,
		}
	}

	remaining := cfg.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	if count > int64(cfg.MaxRequests) {
		retryAfter := int(math.Ceil(time.Until(resetAt).Seconds()))
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Result{
			Allowed:           false,
			Limit:             cfg.MaxRequests,
			Remaining:         0,
			ResetAt:           resetAt,
			RetryAfterSeconds: retryAfter,
			Message:           cfg.Message,
		}
	}

	return Result{
		Allowed:   true,
		Limit:     cfg.MaxRequests,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// Check reports the identifier's current standing without consuming quota.
func (l *Limiter) Check(ctx context.Context, identifier, category string) Result {
	cfg, ok := Categories[category]
	if !ok {
		cfg = Categories[CategoryRead]
	}

	now := time.Now()
	index, resetAt := window(cfg, now)

	count, err := l.store.Get(ctx, key(identifier, category, index))
	if err != nil {
		log.Printf("[RateLimit] Store error (failing open): %v", err)
		return Result{Allowed: true, Limit: cfg.MaxRequests, Remaining: cfg.MaxRequests, ResetAt: resetAt}
	}

	remaining := cfg.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count < int64(cfg.MaxRequests),
		Limit:     cfg.MaxRequests,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
