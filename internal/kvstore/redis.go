package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis backend
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

// Redis stores values in Redis under a namespace prefix
type Redis struct {
	client    *redis.Client
	namespace string
}

// NewRedis connects to Redis and verifies the connection
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return &Redis{client: client, namespace: cfg.Namespace}, nil
}

// Close closes the underlying client
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(k string) string {
	if r.namespace == "" {
		return k
	}
	return r.namespace + ":" + k
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (r *Redis) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	pattern := escapeGlob(r.key(prefix)) + "*"
	removed := 0

	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			n, err := r.client.Del(ctx, batch...).Result()
			if err != nil {
				return removed, fmt.Errorf("redis del prefix %s: %w", prefix, err)
			}
			removed += int(n)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan prefix %s: %w", prefix, err)
	}
	if len(batch) > 0 {
		n, err := r.client.Del(ctx, batch...).Result()
		if err != nil {
			return removed, fmt.Errorf("redis del prefix %s: %w", prefix, err)
		}
		removed += int(n)
	}
	return removed, nil
}

// escapeGlob escapes the characters SCAN MATCH treats as patterns
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '^':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
