package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedTokenStore is a Decorator that adds Read-Aside caching to any TokenRepository.
type CachedTokenStore struct {
	realStore dispatch.TokenRepository
	cache     CacheClient
	namespace string
	ttl       time.Duration
	logger    *slog.Logger
}

// NewCachedTokenStore creates the decorator. namespace separates the cached
// sets of different provider families ("apns", "fcm").
func NewCachedTokenStore(realStore dispatch.TokenRepository, cache CacheClient, namespace string, ttl time.Duration, logger *slog.Logger) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		namespace: namespace,
		ttl:       ttl,
		logger:    logger.With("component", "CachedTokenStore", "provider", namespace),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedTokenStore) GetAllByUser(ctx context.Context, userID string) ([]string, error) {
	key := s.cacheKey(userID)
	var cached []string

	// 1. Try Cache
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	// 2. Fallback to Real Store
	fresh, err := s.realStore.GetAllByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	// 3. Populate Cache (Fire and Forget)
	// If Redis is down, we just serve from the real store.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)

	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedTokenStore) Add(ctx context.Context, userID, token string) error {
	if err := s.realStore.Add(ctx, userID, token); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// Delete must clear the cache even for pruned tokens, otherwise the next
// fan-out would hit the dead token again.
func (s *CachedTokenStore) Delete(ctx context.Context, userID, token string) error {
	if err := s.realStore.Delete(ctx, userID, token); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// --- Helpers ---

// invalidate only logs failures: the write already reached the real store,
// and a stale set ages out after the TTL.
func (s *CachedTokenStore) invalidate(ctx context.Context, userID string) {
	if err := s.cache.Del(ctx, s.cacheKey(userID)); err != nil {
		s.logger.Error("Failed to invalidate cached token set", "user_id", userID, "ttl", s.ttl, "err", err)
	}
}

func (s *CachedTokenStore) cacheKey(userID string) string {
	return fmt.Sprintf("push:tokens:%s:%s", s.namespace, userID)
}
