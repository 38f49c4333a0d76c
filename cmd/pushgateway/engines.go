package main

import (
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/tinywideclouds/go-push-gateway/internal/credential"
	"github.com/tinywideclouds/go-push-gateway/internal/engine"
	"github.com/tinywideclouds/go-push-gateway/internal/platform/apns"
	"github.com/tinywideclouds/go-push-gateway/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-gateway/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-gateway/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-gateway/internal/storage/redisstore"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
	"github.com/tinywideclouds/go-push-gateway/pushgateway/config"
)

// tokenSetTTL bounds how long a cached Firestore token set is served.
const tokenSetTTL = 24 * time.Hour

// buildEngines wires one engine per provider family with credentials.
// redisClient and fsClient may be nil.
func buildEngines(cfg *config.Config, redisClient *cache.RedisClient, fsClient *firestore.Client, logger *slog.Logger) (map[string]*engine.Engine, error) {
	// Both families share one credential cache. Without Redis each replica
	// mints its own credentials.
	var credCache dispatch.CredentialCache
	if redisClient != nil {
		credCache = cache.NewRedisCredentialCache(redisClient.Raw())
	} else {
		credCache = cache.NewMemoryCache()
	}

	engines := make(map[string]*engine.Engine)

	if cfg.APNS.Enabled() {
		p8, err := cfg.APNS.P8Key()
		if err != nil {
			return nil, fmt.Errorf("failed to read APNs auth key: %w", err)
		}
		mint, err := apns.NewMinter(apns.CredentialConfig{
			KeyID:  cfg.APNS.KeyID,
			TeamID: cfg.APNS.TeamID,
			P8Key:  p8,
		})
		if err != nil {
			return nil, err
		}
		creds := credential.NewManager(credCache, apns.CredentialCacheKey, mint, logger)
		client := apns.NewClient(apns.Config{
			Topic:      cfg.APNS.Topic,
			UseSandbox: cfg.APNS.UseSandbox,
			Timeout:    cfg.RequestTimeout,
		}, creds, logger)

		tokens, err := tokenRepository(cfg, dispatch.ProviderAPNS, redisstore.APNSKeyPattern, redisClient, fsClient, logger)
		if err != nil {
			return nil, err
		}
		eng, err := engine.New(engine.Config{
			Provider:    dispatch.ProviderAPNS,
			Sender:      client,
			Credentials: creds,
			Tokens:      tokens,
			Workers:     cfg.FanoutWorkers,
			SendRate:    cfg.SendRatePerSec,
		}, logger)
		if err != nil {
			return nil, err
		}
		engines[dispatch.ProviderAPNS] = eng
		logger.Info("APNs dispatcher enabled", "topic", cfg.APNS.Topic, "sandbox", cfg.APNS.UseSandbox)
	}

	if cfg.FCM.Enabled() {
		saJSON, err := cfg.FCM.ServiceAccountJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to read firebase service account: %w", err)
		}
		projectID := cfg.FCM.ProjectID
		if projectID == "" {
			if projectID, err = fcm.ProjectIDFromServiceAccount(saJSON); err != nil {
				return nil, err
			}
		}
		mint, err := fcm.NewMinter(fcm.CredentialConfig{
			ServiceAccountJSON: saJSON,
			DefaultLifetime:    cfg.FCM.BearerTokenTimeout,
		})
		if err != nil {
			return nil, err
		}
		creds := credential.NewManager(credCache, fcm.CredentialCacheKey, mint, logger)
		client := fcm.NewClient(fcm.Config{
			ProjectID:   projectID,
			ClickAction: cfg.FCM.ClickAction,
			Timeout:     cfg.RequestTimeout,
		}, creds, logger)

		tokens, err := tokenRepository(cfg, dispatch.ProviderFCM, redisstore.FCMKeyPattern, redisClient, fsClient, logger)
		if err != nil {
			return nil, err
		}
		eng, err := engine.New(engine.Config{
			Provider:    dispatch.ProviderFCM,
			Sender:      client,
			Credentials: creds,
			Tokens:      tokens,
			Workers:     cfg.FanoutWorkers,
			SendRate:    cfg.SendRatePerSec,
		}, logger)
		if err != nil {
			return nil, err
		}
		engines[dispatch.ProviderFCM] = eng
		logger.Info("FCM dispatcher enabled", "project_id", projectID)
	}

	return engines, nil
}

// tokenRepository returns nil (no token storage) when the selected backend
// is unavailable.
func tokenRepository(
	cfg *config.Config,
	provider, keyPattern string,
	redisClient *cache.RedisClient,
	fsClient *firestore.Client,
	logger *slog.Logger,
) (dispatch.TokenRepository, error) {
	switch {
	case cfg.TokenStore == config.TokenStoreFirestore && fsClient != nil:
		var repo dispatch.TokenRepository = fsStore.NewFirestoreStore(fsClient, provider)
		if redisClient != nil {
			repo = cache.NewCachedTokenStore(repo, redisClient, provider, tokenSetTTL, logger)
			logger.Info("TokenStore initialized", "provider", provider, "type", "redis_cached_firestore")
		} else {
			logger.Info("TokenStore initialized", "provider", provider, "type", "firestore")
		}
		return repo, nil
	case redisClient != nil:
		logger.Info("TokenStore initialized", "provider", provider, "type", "redis")
		return redisstore.NewTokenRepository(redisClient.Raw(), keyPattern)
	default:
		logger.Warn("No token storage; only send-by-token is available", "provider", provider)
		return nil, nil
	}
}
