package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/modelarena/modelarena/internal/models"
)

// How long a Redis failure keeps generation throttling on the in-process
// window before the next reconnect attempt.
const redisRetryBackoff = 30 * time.Second

// settingsRefreshInterval bounds how often the DB-backed settings
// snapshot is reloaded on the generation path.
const settingsRefreshInterval = 10 * time.Second

// SettingsProvider supplies the latest settings snapshot.
type SettingsProvider func() SettingsConfig

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

// redisTarget identifies the backend a shared limiter was built for, so
// a settings change tears the old client down.
type redisTarget struct {
	addr     string
	password string
	prefix   string
	db       int
}

// Manager throttles generation requests per account. It resolves the
// effective limit from the account tier, then counts the request in the
// shared Redis window when one is configured, falling back to the
// in-process window while Redis is down.
type Manager struct {
	provider       SettingsProvider
	nowFn          func() time.Time
	memoryLimiter  Limiter
	newRedisClient RedisClientFactory

	mu           sync.Mutex
	snapshot     SettingsConfig
	snapshotAt   time.Time
	redisLimiter *RedisLimiter
	redisTarget  redisTarget
	redisRetryAt time.Time
}

// NewManager constructs a Manager with default dependencies when nil.
func NewManager(provider SettingsProvider, nowFn func() time.Time, newRedisClient RedisClientFactory) *Manager {
	if provider == nil {
		provider = LoadSettingsConfig
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if newRedisClient == nil {
		newRedisClient = redis.NewClient
	}
	return &Manager{
		provider:       provider,
		nowFn:          nowFn,
		memoryLimiter:  NewMemoryLimiter(),
		newRedisClient: newRedisClient,
	}
}

// AllowAccount applies the account's resolved per-second limit to one
// generation request. Accounts without an effective limit always pass.
func (m *Manager) AllowAccount(ctx context.Context, acct *models.Account) (Result, error) {
	if m == nil || acct == nil {
		return Result{Allowed: true}, nil
	}
	cfg := m.settings()
	decision := ResolveLimit(acct, cfg)
	key := KeyForDecision(acct.UserID, decision)
	if key == "" {
		return Result{Allowed: true}, nil
	}
	return m.allow(ctx, key, decision.Limit, cfg)
}

// Allow checks one request against an explicit key and limit.
func (m *Manager) Allow(ctx context.Context, key string, limit int) (Result, error) {
	if m == nil || key == "" || limit <= 0 {
		return Result{Allowed: true}, nil
	}
	return m.allow(ctx, key, limit, m.settings())
}

func (m *Manager) allow(ctx context.Context, key string, limit int, cfg SettingsConfig) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	now := m.nowFn()
	if cfg.RedisEnabled {
		if result, ok := m.allowShared(ctx, key, limit, now, cfg); ok {
			return result, nil
		}
	}
	return m.memoryLimiter.Allow(ctx, key, limit, now)
}

// settings returns the cached snapshot, reloading it once the refresh
// interval has passed. Limit changes made in the admin console take
// effect within that interval without a per-request DB round trip.
func (m *Manager) settings() SettingsConfig {
	now := m.nowFn()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshotAt.IsZero() || now.Sub(m.snapshotAt) >= settingsRefreshInterval {
		m.snapshot = m.provider()
		m.snapshotAt = now
	}
	return m.snapshot
}

// allowShared counts the request in the Redis window. ok=false sends the
// caller to the in-process fallback.
func (m *Manager) allowShared(ctx context.Context, key string, limit int, now time.Time, cfg SettingsConfig) (Result, bool) {
	limiter := m.sharedLimiter(ctx, cfg, now)
	if limiter == nil {
		return Result{}, false
	}
	result, errAllow := limiter.Allow(ctx, key, limit, now)
	if errAllow != nil {
		m.markRedisDown(errAllow, now)
		return Result{}, false
	}
	return result, true
}

func (m *Manager) markRedisDown(err error, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.redisRetryAt.IsZero() && now.Before(m.redisRetryAt) {
		return
	}
	m.redisRetryAt = now.Add(redisRetryBackoff)
	log.WithError(err).Warn("ratelimit: redis unavailable, throttling in process memory")
}

// sharedLimiter returns the Redis-backed limiter, rebuilding it when the
// settings point at a different backend. Returns nil while the backoff
// from the last failure is active.
func (m *Manager) sharedLimiter(ctx context.Context, cfg SettingsConfig, now time.Time) *RedisLimiter {
	target := redisTarget{
		addr:     strings.TrimSpace(cfg.RedisAddr),
		password: strings.TrimSpace(cfg.RedisPassword),
		prefix:   strings.TrimSpace(cfg.RedisPrefix),
		db:       cfg.RedisDB,
	}
	if target.addr == "" {
		return nil
	}
	if target.db < 0 {
		target.db = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.redisRetryAt.IsZero() {
		if now.Before(m.redisRetryAt) {
			return nil
		}
		m.redisRetryAt = time.Time{}
	}
	if m.redisLimiter != nil && m.redisTarget == target {
		return m.redisLimiter
	}
	if m.redisLimiter != nil {
		m.redisLimiter.Close()
		m.redisLimiter = nil
	}

	client := m.newRedisClient(&redis.Options{
		Addr:     target.addr,
		Password: target.password,
		DB:       target.db,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		m.redisRetryAt = now.Add(redisRetryBackoff)
		log.WithError(errPing).WithField("addr", target.addr).Warn("ratelimit: redis unreachable, throttling in process memory")
		return nil
	}
	m.redisLimiter = NewRedisLimiter(client, target.prefix)
	m.redisTarget = target
	return m.redisLimiter
}
