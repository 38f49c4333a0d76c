// Package redisstore keeps each user's device tokens in a Redis set.
package redisstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const userPlaceholder = "{user_id}"

// Key patterns used by the gateway. APNs and FCM tokens never share a set.
const (
	APNSKeyPattern = "user:{user_id}:apns-tokens"
	FCMKeyPattern  = "user:{user_id}:fcm-tokens"
)

// TokenRepository implements dispatch.TokenRepository with SADD/SREM/SMEMBERS.
type TokenRepository struct {
	rdb        redis.Cmdable
	keyPattern string
}

// NewTokenRepository returns a repository whose sets are named by substituting
// the user id into keyPattern.
func NewTokenRepository(rdb redis.Cmdable, keyPattern string) (*TokenRepository, error) {
	if !strings.Contains(keyPattern, userPlaceholder) {
		return nil, fmt.Errorf("key pattern %q must contain %s", keyPattern, userPlaceholder)
	}
	return &TokenRepository{rdb: rdb, keyPattern: keyPattern}, nil
}

func (r *TokenRepository) Add(ctx context.Context, userID, token string) error {
	if err := r.rdb.SAdd(ctx, r.key(userID), token).Err(); err != nil {
		return fmt.Errorf("failed to add token for user %s: %w", userID, err)
	}
	return nil
}

func (r *TokenRepository) Delete(ctx context.Context, userID, token string) error {
	if err := r.rdb.SRem(ctx, r.key(userID), token).Err(); err != nil {
		return fmt.Errorf("failed to delete token for user %s: %w", userID, err)
	}
	return nil
}

func (r *TokenRepository) GetAllByUser(ctx context.Context, userID string) ([]string, error) {
	tokens, err := r.rdb.SMembers(ctx, r.key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read tokens for user %s: %w", userID, err)
	}
	return tokens, nil
}

func (r *TokenRepository) key(userID string) string {
	return strings.ReplaceAll(r.keyPattern, userPlaceholder, userID)
}
