// Package ratelimit throttles the review API with Redis fixed-window
// counters (INCR + EXPIRE). Each caller identity gets its own counter per
// rule. Redis outages fail open: reviewers are never locked out of the
// concern queue because the cache is down.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightboard/safety-gate/internal/metrics"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:review:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleReviewRead allows 120 list/detail requests per minute per reviewer.
	RuleReviewRead = Rule{Key: "rl:review:read:", Limit: 120, Window: time.Minute}

	// RuleReviewWrite allows 30 status updates per minute per reviewer.
	RuleReviewWrite = Rule{Key: "rl:review:write:", Limit: 30, Window: time.Minute}

	// RuleEvaluate allows 600 HTTP evaluate calls per minute per service
	// identity. The NATS path is not limited.
	RuleEvaluate = Rule{Key: "rl:evaluate:", Limit: 600, Window: time.Minute}
)

// Limiter performs rate limiting checks against Redis. A Limiter with a nil
// client allows everything.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow counts one request for identifier under rule and reports whether it
// is within the limit. The counter and its expiry are set in one
// transaction so a failed EXPIRE can never leave a counter without a TTL.
//
// On Redis errors Allow returns true together with the error.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	if l == nil || l.client == nil {
		return true, nil
	}
	key := rule.Key + identifier

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, rule.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[ratelimit] redis error key=%s: %v (failing open)", key, err)
		return true, err
	}

	if int(incr.Val()) > rule.Limit {
		metrics.RateLimited.Inc()
		return false, nil
	}
	return true, nil
}

// Remaining returns the number of requests the identifier has left in the
// current window for the given rule. Returns the full limit if the key does not
// exist yet. On Redis errors it returns the full limit (fail open).
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	if l == nil || l.client == nil {
		return rule.Limit, nil
	}
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		log.Printf("[ratelimit] redis GET error key=%s: %v (failing open)", key, err)
		return rule.Limit, err
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// RetryAfter returns how long until identifier's window under rule resets.
func (l *Limiter) RetryAfter(ctx context.Context, identifier string, rule Rule) time.Duration {
	if l == nil || l.client == nil {
		return 0
	}
	ttl, err := l.client.PTTL(ctx, rule.Key+identifier).Result()
	if err != nil || ttl < 0 {
		return rule.Window
	}
	return ttl
}
