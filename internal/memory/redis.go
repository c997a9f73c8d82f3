package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "lingotalk:history:"

// RedisStore keeps each session's history in a capped Redis list that
// expires after ttl of inactivity.
type RedisStore struct {
	rdb           *redis.Client
	ttl           time.Duration
	maxPerSession int64
}

func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration, maxPerSession int) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	if maxPerSession <= 0 {
		maxPerSession = 200
	}
	return &RedisStore{rdb: rdb, ttl: ttl, maxPerSession: int64(maxPerSession)}, nil
}

func (s *RedisStore) SaveTurn(ctx context.Context, record TurnRecord) error {
	record = withDefaults(record)
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	key := redisKeyPrefix + record.SessionID
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, -s.maxPerSession, -1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *RedisStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.rdb.LRange(ctx, redisKeyPrefix+sessionID, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	return decodeTurns(raw)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func decodeTurns(raw []string) ([]TurnRecord, error) {
	items := make([]TurnRecord, 0, len(raw))
	for _, entry := range raw {
		var r TurnRecord
		if err := json.Unmarshal([]byte(entry), &r); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		items = append(items, r)
	}
	return items, nil
}
