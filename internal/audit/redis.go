package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const eventsKey = "watchtower:events"

// RedisStore persists events in a Redis sorted set scored by timestamp,
// so windowed queries map directly to ZRANGEBYSCORE.
type RedisStore struct {
	client    *redis.Client
	logger    *zap.Logger
	retention time.Duration
}

// NewRedisStore creates a Redis-backed store. Events older than retention
// are trimmed opportunistically on append; pass zero to keep everything.
func NewRedisStore(client *redis.Client, retention time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, logger: logger, retention: retention}
}

// Append records an event.
func (s *RedisStore) Append(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := s.client.ZAdd(ctx, eventsKey, redis.Z{
		Score:  float64(ev.Timestamp.UnixNano()),
		Member: string(data),
	}).Err(); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	if s.retention > 0 {
		cutoff := strconv.FormatInt(time.Now().Add(-s.retention).UnixNano(), 10)
		if err := s.client.ZRemRangeByScore(ctx, eventsKey, "-inf", cutoff).Err(); err != nil {
			s.logger.Warn("event trim failed", zap.Error(err))
		}
	}
	return nil
}

// Count returns the number of events matching f within r. Field filters
// are applied client-side; only the time window is pushed to Redis.
func (s *RedisStore) Count(ctx context.Context, f Filter, r TimeRange) (int, error) {
	events, err := s.List(ctx, f, r)
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

// List returns events matching f within r ordered by timestamp.
func (s *RedisStore) List(ctx context.Context, f Filter, r TimeRange) ([]*Event, error) {
	results, err := s.client.ZRangeByScore(ctx, eventsKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(r.Start.UnixNano(), 10),
		Max: strconv.FormatInt(r.End.UnixNano(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	var out []*Event
	for _, raw := range results {
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			s.logger.Warn("skipping undecodable event", zap.Error(err))
			continue
		}
		if f.Matches(&ev) {
			out = append(out, &ev)
		}
	}
	return out, nil
}
