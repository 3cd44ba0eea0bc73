// Package ratelimit provides Redis-backed rate limiting using the
// INCR + EXPIRE fixed-window algorithm, used to throttle message sends
// and history fetches per user without holding any in-process state.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quizdash/chat-service/internal/metrics"
)

// Rule defines one throttling policy: key prefix, maximum count, and
// window duration.
type Rule struct {
	Key    string        // Redis key prefix, e.g. "rl:send:"
	Limit  int           // max count in the window
	Window time.Duration // window duration
}

var (
	// RuleSend allows 10 message sends per 10 seconds per user,
	// covering both private and contest sends.
	RuleSend = Rule{Key: "rl:send:", Limit: 10, Window: 10 * time.Second}

	// RuleHistory allows 30 history page fetches per minute per user.
	RuleHistory = Rule{Key: "rl:hist:", Limit: 30, Window: 1 * time.Minute}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow reports whether the identifier is within the rule's limit,
// incrementing its window counter. On Redis errors it fails open so an
// outage never blocks legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("ratelimit: redis INCR error key=%s: %v (failing open)", key, err)
		return true, err
	}

	// First increment defines the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("ratelimit: redis EXPIRE error key=%s: %v (failing open)", key, err)
			// Key exists with no TTL; delete it rather than throttle
			// the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	if int(count) > rule.Limit {
		metrics.MessagesRejected.WithLabelValues("rate_limited").Inc()
		return false, nil
	}
	return true, nil
}

// RetryAfter returns the seconds remaining in the identifier's current
// window, for rate_limited replies. Zero when the window is gone.
func (l *Limiter) RetryAfter(ctx context.Context, identifier string, rule Rule) int {
	ttl, err := l.client.TTL(ctx, rule.Key+identifier).Result()
	if err != nil || ttl <= 0 {
		return 0
	}
	return int(ttl.Seconds())
}
