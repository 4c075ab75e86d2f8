// Package quota meters generation spend per user. The orchestrator
// consults the ledger before every generation call and charges it only
// after a turn commits.
package quota

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

// Ledger answers whether a user may spend and records the spend.
type Ledger interface {
	HasCredits(ctx context.Context, userID string, amount int) (bool, error)
	UseCredits(ctx context.Context, userID string, amount int) (bool, error)
}

// Unlimited never rejects. Used when no ledger backend is configured.
type Unlimited struct{}

// HasCredits implements Ledger.
func (Unlimited) HasCredits(context.Context, string, int) (bool, error) { return true, nil }

// UseCredits implements Ledger.
func (Unlimited) UseCredits(context.Context, string, int) (bool, error) { return true, nil }

func creditKey(userID string) string {
	return "credits:" + userID
}

// RedisLedger keeps per-user balances in Redis.
type RedisLedger struct {
	client *redis.Client
}

// NewRedisLedger wraps an existing Redis client.
func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

// Grant adds credits to a user's balance.
func (l *RedisLedger) Grant(ctx context.Context, userID string, amount int) error {
	if err := l.client.IncrBy(ctx, creditKey(userID), int64(amount)).Err(); err != nil {
		return fmt.Errorf("grant credits: %w", err)
	}
	return nil
}

// HasCredits implements Ledger.
func (l *RedisLedger) HasCredits(ctx context.Context, userID string, amount int) (bool, error) {
	balance, err := l.client.Get(ctx, creditKey(userID)).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read credits: %w", err)
	}
	return balance >= int64(amount), nil
}

// UseCredits implements Ledger. The decrement happens atomically and is
// rolled back when it would push the balance below zero.
func (l *RedisLedger) UseCredits(ctx context.Context, userID string, amount int) (bool, error) {
	const script = `
local balance = tonumber(redis.call("get", KEYS[1]) or "0")
if balance < tonumber(ARGV[1]) then
  return 0
end
redis.call("decrby", KEYS[1], ARGV[1])
return 1`
	res, err := l.client.Eval(ctx, script, []string{creditKey(userID)}, amount).Int64()
	if err != nil {
		return false, fmt.Errorf("use credits: %w", err)
	}
	return res == 1, nil
}

// MemoryLedger is an in-process ledger for tests and single-node
// development.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int
}

// NewMemoryLedger returns an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]int)}
}

// Grant adds credits to a user's balance.
func (l *MemoryLedger) Grant(userID string, amount int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] += amount
}

// Balance reports a user's remaining credits.
func (l *MemoryLedger) Balance(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

// HasCredits implements Ledger.
func (l *MemoryLedger) HasCredits(_ context.Context, userID string, amount int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID] >= amount, nil
}

// UseCredits implements Ledger.
func (l *MemoryLedger) UseCredits(_ context.Context, userID string, amount int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[userID] < amount {
		return false, nil
	}
	l.balances[userID] -= amount
	return true, nil
}
