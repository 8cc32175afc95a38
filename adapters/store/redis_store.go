package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/bnbvote/core"
	"github.com/layer-3/bnbvote/ports"
)

// RedisStore is a Redis implementation of the Store interface
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client redis.Cmdable) ports.Store {
	return NewRedisStoreWithPrefix(client, "bnbvote:")
}

// NewRedisStoreWithPrefix creates a Redis store whose keys start with prefix
func NewRedisStoreWithPrefix(client redis.Cmdable, prefix string) ports.Store {
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) nonceKey(address string) string {
	return s.prefix + "nonce:" + address
}

func (s *RedisStore) invalidatedKey(tokenID string) string {
	return s.prefix + "invalidated:" + tokenID
}

// SaveNonce stores the nonce with an expiration
func (s *RedisStore) SaveNonce(ctx context.Context, address, nonce string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.nonceKey(address), nonce, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save nonce: %w", err)
	}
	return nil
}

// ConsumeNonce atomically reads and deletes the nonce
func (s *RedisStore) ConsumeNonce(ctx context.Context, address string) (string, error) {
	nonce, err := s.client.GetDel(ctx, s.nonceKey(address)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", core.ErrInvalidNonce
		}
		return "", fmt.Errorf("failed to consume nonce: %w", err)
	}
	return nonce, nil
}

// InvalidateToken marks a token as invalidated in Redis
func (s *RedisStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	if err := s.client.Set(ctx, s.invalidatedKey(tokenID), "1", expiry).Err(); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}
	return nil
}

// IsTokenInvalidated checks if a token is invalidated in Redis
func (s *RedisStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	val, err := s.client.Exists(ctx, s.invalidatedKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token invalidation: %w", err)
	}
	return val > 0, nil
}
