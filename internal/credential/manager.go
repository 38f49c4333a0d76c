// Package credential implements the cached bearer-credential lifecycle shared
// by every provider family: read from cache, mint on miss, invalidate on demand.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// ErrCredentialUnavailable wraps every minting failure. It is never retried
// here; callers treat it as the provider being unavailable.
var ErrCredentialUnavailable = errors.New("credential unavailable")

// MintFunc produces a fresh bearer credential and the instant the cache must
// stop handing it out.
type MintFunc func(ctx context.Context) (token string, expiresAt time.Time, err error)

// Manager implements dispatch.CredentialManager on top of a shared cache.
type Manager struct {
	cache  dispatch.CredentialCache
	key    string
	mint   MintFunc
	logger *slog.Logger
}

// NewManager creates a manager that caches under key.
func NewManager(cache dispatch.CredentialCache, key string, mint MintFunc, logger *slog.Logger) *Manager {
	return &Manager{
		cache:  cache,
		key:    key,
		mint:   mint,
		logger: logger.With("component", "CredentialManager", "cache_key", key),
	}
}

// Token returns the cached credential or mints, caches and returns a new one.
// The cache is trusted to have enforced freshness.
func (m *Manager) Token(ctx context.Context) (string, error) {
	cached, ok, err := m.cache.Get(ctx, m.key)
	if err != nil {
		// A broken cache degrades to minting on every call.
		m.logger.Warn("Credential cache read failed", "err", err)
	} else if ok {
		return cached, nil
	}

	token, expiresAt, err := m.mint(ctx)
	if err != nil {
		m.logger.Error("Credential minting failed", "err", err)
		return "", fmt.Errorf("%w: %w", ErrCredentialUnavailable, err)
	}

	if err := m.cache.Set(ctx, m.key, token, expiresAt); err != nil {
		m.logger.Warn("Credential cache write failed", "err", err)
	}
	m.logger.Debug("Minted new credential", "expires_at", expiresAt)
	return token, nil
}

// Invalidate drops the cached credential so the next Token call mints.
func (m *Manager) Invalidate(ctx context.Context) error {
	if err := m.cache.Delete(ctx, m.key); err != nil {
		return fmt.Errorf("failed to invalidate credential %s: %w", m.key, err)
	}
	return nil
}
