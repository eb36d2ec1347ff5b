package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	internalsettings "github.com/modelarena/modelarena/internal/settings"
)

// Window keys expire shortly after their second passes, so idle accounts
// leave nothing behind in Redis.
const windowKeyTTL = 2 * time.Second

// windowCountScript increments the per-second counter and stamps its
// expiry on first use, in one atomic step.
var windowCountScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisLimiter counts fixed one-second windows in Redis, so the limit
// holds across every server instance sharing the backend.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter constructs a RedisLimiter. An empty prefix falls back
// to the default key prefix.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = internalsettings.DefaultRateLimitRedisPrefix
	}
	return &RedisLimiter{client: client, prefix: prefix}
}

// Allow counts the request in its one-second window.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" || l == nil || l.client == nil {
		return Result{Allowed: true}, nil
	}
	sec := now.Unix()
	windowKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, sec)

	count, errEval := windowCountScript.Run(ctx, l.client, []string{windowKey}, windowKeyTTL.Milliseconds()).Int64()
	if errEval != nil {
		return Result{}, errEval
	}

	reset := time.Unix(sec+1, 0).UTC()
	if count > int64(limit) {
		return Result{Allowed: false, Remaining: 0, Reset: reset}, nil
	}
	return Result{Allowed: true, Remaining: limit - int(count), Reset: reset}, nil
}

// Close releases the underlying client.
func (l *RedisLimiter) Close() {
	if l != nil && l.client != nil {
		_ = l.client.Close()
	}
}
