package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vehirec/internal/config"
	"vehirec/internal/models"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

type RedisRecommendationCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisRecommendationCache(client *redis.Client, ttl time.Duration) *RedisRecommendationCache {
	return &RedisRecommendationCache{client: client, ttl: ttl}
}

func (r *RedisRecommendationCache) Get(ctx context.Context, key string) (*models.RecommendationList, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recommendations from redis: %w", err)
	}

	var list models.RecommendationList
	if err := json.Unmarshal(val, &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recommendations: %w", err)
	}
	return &list, nil
}

func (r *RedisRecommendationCache) Set(ctx context.Context, key string, list *models.RecommendationList) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendations: %w", err)
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set recommendations in redis: %w", err)
	}
	return nil
}

// Invalidate removes every cached list.
func (r *RedisRecommendationCache) Invalidate(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	iter := r.client.Scan(ctx, 0, cachePrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cached recommendations: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cached recommendations: %w", err)
	}
	return nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
