package settings

// DB config keys and defaults for settings.
const (
	// SiteNameKey is the DB config key for the site name.
	SiteNameKey = "SITE_NAME"
	// DefaultSiteName is the fallback site name.
	DefaultSiteName = "ModelArena"
	// RateLimitKey controls the default generation rate limit per second.
	RateLimitKey = "RATE_LIMIT"
	// RateLimitPaidKey overrides the rate limit for paid accounts.
	RateLimitPaidKey = "RATE_LIMIT_PAID"
	// RateLimitRedisEnabledKey toggles Redis-backed rate limiting.
	RateLimitRedisEnabledKey = "RATE_LIMIT_REDIS_ENABLED"
	// RateLimitRedisAddrKey defines the Redis address for rate limiting.
	RateLimitRedisAddrKey = "RATE_LIMIT_REDIS_ADDR"
	// RateLimitRedisPasswordKey defines the Redis password for rate limiting.
	RateLimitRedisPasswordKey = "RATE_LIMIT_REDIS_PASSWORD"
	// RateLimitRedisDBKey defines the Redis DB index for rate limiting.
	RateLimitRedisDBKey = "RATE_LIMIT_REDIS_DB"
	// RateLimitRedisPrefixKey defines the Redis key prefix for rate limiting.
	RateLimitRedisPrefixKey = "RATE_LIMIT_REDIS_PREFIX"
	// FreeCooldownDaysKey overrides the free-tier cooldown window in days.
	FreeCooldownDaysKey = "FREE_COOLDOWN_DAYS"
	// DefaultRateLimit is the fallback rate limit (0 means unlimited).
	DefaultRateLimit = 0
	// DefaultRateLimitRedisPrefix is the fallback Redis key prefix.
	DefaultRateLimitRedisPrefix = "marena:rl"
	// DefaultFreeCooldownDays is the fallback free-tier cooldown in days.
	DefaultFreeCooldownDays = 7
)
