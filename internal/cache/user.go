package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dualauth/dualauth/internal/model"
)

// userKeyPrefix is the Redis key prefix for cached user hashes.
const userKeyPrefix = "user:"

// ErrEmptyUsername is returned when a user key would be blank.
var ErrEmptyUsername = errors.New("empty username")

func userKey(username string) string {
	return userKeyPrefix + username
}

// PutUser replaces the cached hash for username with user.
// DEL and HSET run in one MULTI so readers never see a mix of old and new
// fields. Entries have no TTL.
func (c *Cache) PutUser(ctx context.Context, username string, user *model.CachedUser) error {
	if username == "" {
		return ErrEmptyUsername
	}
	key := userKey(username)

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, user.Fields())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cache user: %w", err)
	}

	return nil
}

// GetUser retrieves the cached hash for username.
// Returns nil, nil on a cache miss.
func (c *Cache) GetUser(ctx context.Context, username string) (*model.CachedUser, error) {
	if username == "" {
		return nil, ErrEmptyUsername
	}

	result, err := c.client.HGetAll(ctx, userKey(username)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}

	if len(result) == 0 {
		return nil, nil
	}

	return &model.CachedUser{
		ID:           result["id"],
		Username:     result["username"],
		Email:        result["email"],
		PasswordHash: result["password_hash"],
		CreatedAt:    result["created_at"],
	}, nil
}

// DeleteUser removes the cached hash for username. Deleting a missing key
// is not an error.
func (c *Cache) DeleteUser(ctx context.Context, username string) error {
	if username == "" {
		return ErrEmptyUsername
	}

	if err := c.client.Del(ctx, userKey(username)).Err(); err != nil {
		return fmt.Errorf("failed to delete user from cache: %w", err)
	}

	return nil
}
