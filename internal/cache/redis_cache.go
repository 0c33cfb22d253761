package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "koperasi:submission:"

type RedisSubmissionCache struct {
	client *redis.Client
}

func NewRedisSubmissionCache(addr string, password string, db int) *RedisSubmissionCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSubmissionCache{client: client}
}

func (c *RedisSubmissionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSubmissionCache) Close() error {
	return c.client.Close()
}

func (c *RedisSubmissionCache) Get(ctx context.Context, key string) (*Submission, bool, error) {
	val, err := c.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var sub Submission
	if err := json.Unmarshal([]byte(val), &sub); err != nil {
		return nil, false, err
	}
	return &sub, true, nil
}

func (c *RedisSubmissionCache) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	payload, err := json.Marshal(Submission{State: StatePending})
	if err != nil {
		return false, err
	}
	return c.client.SetNX(ctx, keyPrefix+key, payload, ttl).Result()
}

func (c *RedisSubmissionCache) Complete(ctx context.Context, key string, saleID string, ttl time.Duration) error {
	payload, err := json.Marshal(Submission{State: StateDone, SaleID: saleID})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+key, payload, ttl).Err()
}

func (c *RedisSubmissionCache) Release(ctx context.Context, key string) error {
	return c.client.Del(ctx, keyPrefix+key).Err()
}
