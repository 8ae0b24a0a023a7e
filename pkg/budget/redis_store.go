package budget

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStorage implements Storage against a shared Redis instance, the
// backing a horizontally-scaled daemon needs: several daemon processes
// behind a load balancer share one workspace's cumulative spend instead of
// each keeping its own SQLite file, so a session routed to a different
// replica mid-conversation still sees the same budget state. Mirrors
// PostgresStorage's shape; swap backends by swapping which Storage the
// daemon's bootstrap wires into budget.LoadPersistentTracker.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// NewRedisStorage wraps client. prefix namespaces keys (e.g. "helm:budget:")
// so the budget keyspace doesn't collide with any other subsystem sharing
// the same Redis instance.
func NewRedisStorage(client *redis.Client, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = "helm:budget:"
	}
	return &RedisStorage{client: client, prefix: prefix}
}

func (s *RedisStorage) key(workspaceRoot string) string {
	return s.prefix + workspaceRoot
}

// Get returns nil, nil when workspaceRoot has no recorded budget yet -- a
// fresh workspace's first session starts from a zero counter.
func (s *RedisStorage) Get(ctx context.Context, workspaceRoot string) (*Budget, error) {
	raw, err := s.client.Get(ctx, s.key(workspaceRoot)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("budget: redis get %s: %w", workspaceRoot, err)
	}
	var b Budget
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("budget: decode %s: %w", workspaceRoot, err)
	}
	return &b, nil
}

// Set persists b, overwriting whatever was previously stored for its
// WorkspaceRoot. No TTL: a budget counter lives as long as its workspace
// does.
func (s *RedisStorage) Set(ctx context.Context, b *Budget) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("budget: encode %s: %w", b.WorkspaceRoot, err)
	}
	if err := s.client.Set(ctx, s.key(b.WorkspaceRoot), raw, 0).Err(); err != nil {
		return fmt.Errorf("budget: redis set %s: %w", b.WorkspaceRoot, err)
	}
	return nil
}

// Limits reads the daily/monthly limits off the stored record, falling back
// to 0 (unbounded) for a workspace with no record yet.
func (s *RedisStorage) Limits(ctx context.Context, workspaceRoot string) (daily, monthly int64, err error) {
	b, err := s.Get(ctx, workspaceRoot)
	if err != nil {
		return 0, 0, err
	}
	if b == nil {
		return 0, 0, nil
	}
	return b.DailyLimit, b.MonthlyLimit, nil
}

// SetLimits updates only the limit fields of workspaceRoot's stored record,
// creating one with zero usage if none exists yet.
func (s *RedisStorage) SetLimits(ctx context.Context, workspaceRoot string, daily, monthly int64) error {
	b, err := s.Get(ctx, workspaceRoot)
	if err != nil {
		return err
	}
	if b == nil {
		b = &Budget{WorkspaceRoot: workspaceRoot}
	}
	b.DailyLimit = daily
	b.MonthlyLimit = monthly
	return s.Set(ctx, b)
}
