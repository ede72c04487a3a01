// Package ratelimit provides Redis-backed fixed window rate limiting.
// Moderation actions that users can trigger at will (reports in particular)
// are throttled per reporter.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:report:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleReport allows 10 spam reports per minute per reporter.
	RuleReport = Rule{Key: "rl:report:", Limit: 10, Window: time.Minute}

	// RuleBulkDelete allows 3 delete-all requests per minute per reporter.
	RuleBulkDelete = Rule{Key: "rl:delete_all:", Limit: 3, Window: time.Minute}
)

// windowScript increments the counter and starts the window on the first
// hit in one round trip, so a counter can never be left without a TTL.
var windowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client redis.Scripter
	log    *zap.Logger
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client redis.Scripter, log *zap.Logger) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{client: client, log: log.Named("ratelimit")}
}

// Allow counts one request for identifier under rule and reports whether it
// is within the limit. Redis errors fail open: the request is allowed and
// the error returned for logging.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := windowScript.Run(ctx, l.client, []string{key}, rule.Window.Milliseconds()).Int64()
	if err != nil {
		l.log.Warn("rate limit check failed, failing open", zap.String("key", key), zap.Error(err))
		return true, err
	}
	return count <= int64(rule.Limit), nil
}
