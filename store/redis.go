package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is the production KeyedWindowStore backed by a shared Redis
// instance. Timestamps are stored as sorted-set members keyed by their
// millisecond score; nanosecond members keep concurrent events distinct.
type Redis struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedis(addr, password string, db int, log *zap.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &Redis{
		client: client,
		log:    log.With(zap.String("module", "store")),
	}
}

func (s *Redis) Increment(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return n, nil
}

func (s *Redis) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		s.log.Error("failed to set key", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return val, true, nil
}

func (s *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("del %v: %w", keys, err)
	}
	return nil
}

func (s *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

func (s *Redis) AddTimestamp(ctx context.Context, key string, ts time.Time) error {
	member := strconv.FormatInt(ts.UnixNano(), 10)
	err := s.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(ts.UnixMilli()),
		Member: member,
	}).Err()
	if err != nil {
		return fmt.Errorf("zadd %s: %w", key, err)
	}
	return nil
}

func (s *Redis) CountSince(ctx context.Context, key string, min time.Time) (int64, error) {
	n, err := s.client.ZCount(ctx, key, formatScore(min), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("zcount %s: %w", key, err)
	}
	return n, nil
}

func (s *Redis) OldestSince(ctx context.Context, key string, min time.Time) (time.Time, bool, error) {
	vals, err := s.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   formatScore(min),
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("zrangebyscore %s: %w", key, err)
	}
	if len(vals) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(int64(vals[0].Score)), true, nil
}

func (s *Redis) PruneOlderThan(ctx context.Context, key string, min time.Time) error {
	max := "(" + formatScore(min)
	if err := s.client.ZRemRangeByScore(ctx, key, "-inf", max).Err(); err != nil {
		return fmt.Errorf("zremrangebyscore %s: %w", key, err)
	}
	return nil
}

func (s *Redis) PushCapped(ctx context.Context, key, value string, maxLen int64) error {
	pipe := s.client.Pipeline()
	pipe.LPush(ctx, key, value)
	pipe.LTrim(ctx, key, 0, maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error("failed to push to capped list", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	return nil
}

func (s *Redis) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	return vals, nil
}

func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Redis) Close() error {
	return s.client.Close()
}

func formatScore(ts time.Time) string {
	return strconv.FormatInt(ts.UnixMilli(), 10)
}
