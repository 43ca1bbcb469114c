package filters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Compile-time check
var _ Store = (*RedisStore)(nil)

// RedisStore хранит критерии в Redis под ключом search_filters:{userID}.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, logger: logger.Named("RedisFilterStore")}
}

func filterKey(userID string) string {
	return fmt.Sprintf("search_filters:%s", userID)
}

func (s *RedisStore) Get(ctx context.Context, userID string) (Criteria, error) {
	raw, err := s.client.Get(ctx, filterKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Empty(), nil
	}
	if err != nil {
		s.logger.Error("Failed to get search criteria from redis", zap.String("userID", userID), zap.Error(err))
		return Criteria{}, fmt.Errorf("failed to get search criteria from redis: %w", err)
	}
	var c Criteria
	if err := json.Unmarshal(raw, &c); err != nil {
		return Criteria{}, fmt.Errorf("corrupt search criteria for user %s: %w", userID, err)
	}
	return c.normalized(), nil
}

func (s *RedisStore) Put(ctx context.Context, userID string, c Criteria) error {
	raw, err := json.Marshal(c.normalized())
	if err != nil {
		return fmt.Errorf("failed to marshal search criteria: %w", err)
	}
	if err := s.client.Set(ctx, filterKey(userID), raw, s.ttl).Err(); err != nil {
		s.logger.Error("Failed to store search criteria in redis", zap.String("userID", userID), zap.Error(err))
		return fmt.Errorf("failed to store search criteria in redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Reset(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, filterKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to reset search criteria in redis: %w", err)
	}
	return nil
}
