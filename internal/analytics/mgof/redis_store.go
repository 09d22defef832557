package mgof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang/snappy"
	"github.com/redis/go-redis/v9"
)

// RedisPatternStore keeps patterns in Redis as snappy-compressed JSON under
// <prefix>:<metric>. A zero TTL keeps them until deleted.
type RedisPatternStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisPatternStore creates a store on an existing client
func NewRedisPatternStore(client *redis.Client, prefix string, ttl time.Duration) *RedisPatternStore {
	if prefix == "" {
		prefix = "morgoth:patterns"
	}
	return &RedisPatternStore{client: client, prefix: prefix, ttl: ttl}
}

// DialRedisPatternStore connects to url and checks the connection
func DialRedisPatternStore(url, prefix string, ttl time.Duration) (*RedisPatternStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisPatternStore(client, prefix, ttl), nil
}

func (s *RedisPatternStore) key(metric string) string {
	return fmt.Sprintf("%s:%s", s.prefix, metric)
}

// Load implements PatternStore
func (s *RedisPatternStore) Load(ctx context.Context, metric string) (Registry, error) {
	data, err := s.client.Get(ctx, s.key(metric)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Registry{}, nil
	}
	if err != nil {
		return Registry{}, fmt.Errorf("failed to load patterns for %s: %w", metric, err)
	}

	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return Registry{}, fmt.Errorf("failed to decompress patterns for %s: %w", metric, err)
	}

	var patterns []Pattern
	if err := json.Unmarshal(raw, &patterns); err != nil {
		return Registry{}, fmt.Errorf("failed to decode patterns for %s: %w", metric, err)
	}
	return NewRegistry(patterns...), nil
}

// Save implements PatternStore
func (s *RedisPatternStore) Save(ctx context.Context, metric string, reg Registry) error {
	raw, err := json.Marshal(reg.Patterns())
	if err != nil {
		return fmt.Errorf("failed to encode patterns for %s: %w", metric, err)
	}
	if err := s.client.Set(ctx, s.key(metric), snappy.Encode(nil, raw), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save patterns for %s: %w", metric, err)
	}
	return nil
}

// Delete implements PatternStore
func (s *RedisPatternStore) Delete(ctx context.Context, metric string) error {
	return s.client.Del(ctx, s.key(metric)).Err()
}

// Close closes the Redis client
func (s *RedisPatternStore) Close() error {
	return s.client.Close()
}
