package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "shorts:verdict:"

// RedisStore keeps verdicts as plain Redis strings without expiry.
type RedisStore struct {
	rdb *redis.Client
}

// OpenRedisStore connects to redisURL and pings it.
func OpenRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	if redisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("verdict redis connected", slog.String("addr", opts.Addr))
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Get(ctx context.Context, videoID string) (string, bool, error) {
	text, err := s.rdb.Get(ctx, redisKeyPrefix+videoID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis store: get: %w", err)
	}
	return text, true, nil
}

func (s *RedisStore) Put(ctx context.Context, videoID, text string, mode PutMode) (bool, error) {
	key := redisKeyPrefix + videoID
	if mode == PutReplace {
		if err := s.rdb.Set(ctx, key, text, 0).Err(); err != nil {
			return false, fmt.Errorf("redis store: set: %w", err)
		}
		return true, nil
	}
	ok, err := s.rdb.SetNX(ctx, key, text, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis store: setnx: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }
