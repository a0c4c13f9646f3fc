package recalc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// JobGuard prevents a second recalculation from starting for a store
// while one is already running. A collision is a no-op for the caller:
// the request is dropped, not queued.
type JobGuard interface {
	// TryAcquire attempts to take the store's lock. When acquired is
	// true the caller must invoke release when the job finishes.
	TryAcquire(ctx context.Context, storeID string) (release func(), acquired bool, err error)
}

// LocalJobGuard is an in-process keyed guard used when Redis is not
// available. Cross-store jobs proceed concurrently; same-store jobs
// collide.
type LocalJobGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewLocalJobGuard() *LocalJobGuard {
	return &LocalJobGuard{inFlight: make(map[string]struct{})}
}

func (g *LocalJobGuard) TryAcquire(ctx context.Context, storeID string) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inFlight[storeID]; busy {
		return nil, false, nil
	}
	g.inFlight[storeID] = struct{}{}

	release := func() {
		g.mu.Lock()
		delete(g.inFlight, storeID)
		g.mu.Unlock()
	}
	return release, true, nil
}

// RedisJobGuard is a distributed per-store lock so a scheduler farm
// running several engine instances never recalculates the same store
// twice concurrently. The TTL bounds lock lifetime if a holder dies.
type RedisJobGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisJobGuard(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisJobGuard {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisJobGuard{client: client, ttl: ttl, logger: logger}
}

func lockKey(storeID string) string {
	return fmt.Sprintf("recalc:lock:%s", storeID)
}

// releaseScript deletes the lock only while the caller still owns it,
// in one round trip. A Get-then-Del pair would let a holder whose lock
// expired delete the lock a second instance re-acquired in between.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (g *RedisJobGuard) TryAcquire(ctx context.Context, storeID string) (func(), bool, error) {
	token := uuid.NewString()
	key := lockKey(storeID)

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		// Fail open: a broken lock backend should not halt
		// recalculation entirely. Writes are idempotent upserts.
		g.logger.Warn("job lock unavailable, proceeding unguarded",
			zap.String("store_id", storeID), zap.Error(err))
		return func() {}, true, nil
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		if err := releaseScript.Run(context.Background(), g.client, []string{key}, token).Err(); err != nil {
			g.logger.Warn("failed to release job lock",
				zap.String("store_id", storeID), zap.Error(err))
		}
	}
	return release, true, nil
}
