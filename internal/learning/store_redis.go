package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	platformredis "aegis/internal/platform/redis"
	"aegis/pkg/domain"
)

// RedisSnapshotCache keeps derived statistics in Redis with a TTL so other
// replicas see fresh-enough copies without re-replaying the log. Misses and
// expiry are normal; the service recomputes on demand.
type RedisSnapshotCache struct {
	client *platformredis.Client
	ttl    time.Duration
}

func NewRedisSnapshotCache(client *platformredis.Client, ttl time.Duration) *RedisSnapshotCache {
	return &RedisSnapshotCache{client: client, ttl: ttl}
}

func statsKey(counterpartyID domain.CounterpartyID) string {
	return "aegis:stats:" + counterpartyID.String()
}

func intelKey(counterpartyID domain.CounterpartyID) string {
	return "aegis:intel:" + counterpartyID.String()
}

func (c *RedisSnapshotCache) SaveStats(ctx context.Context, counterpartyID domain.CounterpartyID, stats []StrategyStat) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats snapshot: %w", err)
	}
	if err := c.client.Set(ctx, statsKey(counterpartyID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("save stats snapshot: %w", err)
	}
	return nil
}

func (c *RedisSnapshotCache) GetStats(ctx context.Context, counterpartyID domain.CounterpartyID) ([]StrategyStat, bool, error) {
	payload, err := c.client.Get(ctx, statsKey(counterpartyID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get stats snapshot: %w", err)
	}
	var stats []StrategyStat
	if err := json.Unmarshal(payload, &stats); err != nil {
		return nil, false, fmt.Errorf("decode stats snapshot: %w", err)
	}
	return stats, true, nil
}

func (c *RedisSnapshotCache) SaveIntelligence(ctx context.Context, intel Intelligence) error {
	payload, err := json.Marshal(intel)
	if err != nil {
		return fmt.Errorf("marshal intelligence snapshot: %w", err)
	}
	if err := c.client.Set(ctx, intelKey(intel.CounterpartyID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("save intelligence snapshot: %w", err)
	}
	return nil
}

func (c *RedisSnapshotCache) GetIntelligence(ctx context.Context, counterpartyID domain.CounterpartyID) (Intelligence, bool, error) {
	payload, err := c.client.Get(ctx, intelKey(counterpartyID)).Bytes()
	if err == redis.Nil {
		return Intelligence{}, false, nil
	}
	if err != nil {
		return Intelligence{}, false, fmt.Errorf("get intelligence snapshot: %w", err)
	}
	var intel Intelligence
	if err := json.Unmarshal(payload, &intel); err != nil {
		return Intelligence{}, false, fmt.Errorf("decode intelligence snapshot: %w", err)
	}
	return intel, true, nil
}
