package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"storyforge/server/internal/config"
)

// Turn locks expire on their own so a crashed worker cannot wedge a
// session forever.
const turnLockTTL = 2 * time.Minute

// RedisStore holds the Redis connection used for cross-instance turn
// locks and the credit ledger.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and pings the configured Redis instance.
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client exposes the raw client for collaborators (quota ledger).
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func turnLockKey(sessionID string) string {
	return "session:turnlock:" + sessionID
}

// AcquireTurnLock takes the cross-instance turn lock for a session.
// Returns false when another instance holds it. The in-process
// per-session mutex in the engine stays the primary guard; this only
// extends the single-writer rule across replicas.
func (s *RedisStore) AcquireTurnLock(ctx context.Context, sessionID, owner string) (bool, error) {
	ok, err := s.client.SetNX(ctx, turnLockKey(sessionID), owner, turnLockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire turn lock: %w", err)
	}
	return ok, nil
}

// ReleaseTurnLock drops the turn lock when held by owner. Compare and
// delete in one script so a lock that expired and was re-acquired by
// another owner is never released out from under them.
func (s *RedisStore) ReleaseTurnLock(ctx context.Context, sessionID, owner string) error {
	const script = `
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`
	if err := s.client.Eval(ctx, script, []string{turnLockKey(sessionID)}, owner).Err(); err != nil {
		return fmt.Errorf("release turn lock: %w", err)
	}
	return nil
}
