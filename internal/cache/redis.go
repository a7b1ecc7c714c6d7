package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisStore shares verdicts across sentinel instances through Redis. The
// staleness window doubles as the key TTL.
type RedisStore struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	stats  counters
}

// NewRedisStore creates a new Redis-backed verdict store
func NewRedisStore(config *Config, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.MaxConnections > 0 {
		opts.PoolSize = config.MaxConnections
	}
	opts.MinIdleConns = config.MinIdleConns

	if config.KeyPrefix == "" {
		config.KeyPrefix = "txn-sentinel"
	}

	store := &RedisStore{
		client: redis.NewClient(opts),
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.client.Ping(ctx).Err(); err != nil {
		store.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Verdict cache opened",
		zap.String("backend", "redis"),
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("staleness", config.Staleness))

	return store, nil
}

func (r *RedisStore) key(k string) string {
	return fmt.Sprintf("%s:verdict:%s", r.config.KeyPrefix, k)
}

func (r *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	data, err := r.client.Get(ctx, r.key(key)).Result()
	if err == redis.Nil {
		r.stats.misses.Add(1)
		return Entry{}, false, nil
	} else if err != nil {
		r.stats.misses.Add(1)
		r.logger.Warn("Cache lookup failed", zap.Error(err))
		return Entry{}, false, err
	}

	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		r.logger.Warn("Failed to unmarshal cached verdict", zap.Error(err))
		// Delete corrupted cache entry
		r.client.Del(ctx, r.key(key))
		r.stats.misses.Add(1)
		return Entry{}, false, nil
	}

	entry, ok := r.stats.lookup(entry, true, r.config.Staleness, time.Now())
	return entry, ok, nil
}

func (r *RedisStore) Put(ctx context.Context, key string, entry Entry) error {
	data, err := json.Marshal(stamp(entry))
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}
	if err := r.client.Set(ctx, r.key(key), data, r.config.Staleness).Err(); err != nil {
		return fmt.Errorf("failed to cache verdict: %w", err)
	}
	return nil
}

// Clear removes all cached verdicts under the key prefix
func (r *RedisStore) Clear(ctx context.Context) error {
	pattern := r.config.KeyPrefix + ":verdict:*"

	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := r.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	r.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

func (r *RedisStore) Stats() Stats { return r.stats.snapshot("redis") }

func (r *RedisStore) Flush() error { return nil }

func (r *RedisStore) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	if !strings.Contains(url, "@") {
		return url
	}
	parts := strings.SplitN(url, "@", 2)
	userPart := parts[0]
	if idx := strings.LastIndex(userPart, ":"); idx > strings.Index(userPart, "://") {
		userPart = userPart[:idx+1] + "***"
	}
	return userPart + "@" + parts[1]
}
