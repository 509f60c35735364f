package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	alertsHashKey    = "watchtower:alerts"
	alertsHistoryKey = "watchtower:alerts:history"
	suppressPrefix   = "watchtower:alerts:suppress:"
)

// RedisStore persists alerts in a Redis hash keyed by id with a companion
// sorted set for timestamp-ordered pruning. Duplicate suppression uses
// SET NX so the check-then-insert sequence is atomic across instances.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed alert store.
func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, logger: logger}
}

// Insert adds an alert.
func (s *RedisStore) Insert(ctx context.Context, a *Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, alertsHashKey, a.ID, string(data))
	pipe.ZAdd(ctx, alertsHistoryKey, redis.Z{
		Score:  float64(a.Timestamp.UnixNano()),
		Member: a.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// Get returns the alert with the given id, or nil if unknown.
func (s *RedisStore) Get(ctx context.Context, id string) (*Alert, error) {
	raw, err := s.client.HGet(ctx, alertsHashKey, id).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	var a Alert
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("failed to decode alert: %w", err)
	}
	return &a, nil
}

// List returns all alerts ordered oldest first.
func (s *RedisStore) List(ctx context.Context) ([]*Alert, error) {
	ids, err := s.client.ZRange(ctx, alertsHistoryKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	raws, err := s.client.HMGet(ctx, alertsHashKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch alerts: %w", err)
	}

	out := make([]*Alert, 0, len(raws))
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var a Alert
		if err := json.Unmarshal([]byte(str), &a); err != nil {
			s.logger.Warn("skipping undecodable alert", zap.Error(err))
			continue
		}
		out = append(out, &a)
	}
	return out, nil
}

// Update replaces a stored alert. Unknown ids are ignored.
func (s *RedisStore) Update(ctx context.Context, a *Alert) error {
	exists, err := s.client.HExists(ctx, alertsHashKey, a.ID).Result()
	if err != nil {
		return fmt.Errorf("failed to check alert: %w", err)
	}
	if !exists {
		return nil
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	if err := s.client.HSet(ctx, alertsHashKey, a.ID, string(data)).Err(); err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	return nil
}

// DeleteBefore removes alerts with a timestamp strictly before cutoff.
func (s *RedisStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	// ZRANGEBYSCORE max is inclusive, so step one nanosecond back to keep
	// alerts at exactly the cutoff.
	max := strconv.FormatInt(cutoff.UnixNano()-1, 10)
	ids, err := s.client.ZRangeByScore(ctx, alertsHistoryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to find expired alerts: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, alertsHashKey, ids...)
	pipe.ZRemRangeByScore(ctx, alertsHistoryKey, "-inf", max)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to delete expired alerts: %w", err)
	}
	return len(ids), nil
}

// Reserve claims key for ttl via SET NX.
func (s *RedisStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, suppressPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve suppression key: %w", err)
	}
	return ok, nil
}
