package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	TokenStoreRedis     = "redis"
	TokenStoreFirestore = "firestore"
)

type RedisConfig struct {
	Enabled  bool
	URL      string
	Addr     string
	Password string
	DB       int
}

type APNSConfig struct {
	// AuthKey is the .p8 content; AuthKeyFile is read when it is empty.
	AuthKey     string
	AuthKeyFile string
	KeyID       string
	TeamID      string
	Topic       string
	UseSandbox  bool
}

// Enabled reports whether enough credentials are configured to mint tokens.
func (c APNSConfig) Enabled() bool {
	return (c.AuthKey != "" || c.AuthKeyFile != "") && c.KeyID != "" && c.TeamID != ""
}

// P8Key returns the key content, reading AuthKeyFile if needed.
func (c APNSConfig) P8Key() ([]byte, error) {
	if c.AuthKey != "" {
		return []byte(unescapeNewlines(c.AuthKey)), nil
	}
	return os.ReadFile(c.AuthKeyFile)
}

type FCMConfig struct {
	ProjectID       string
	CredentialsFile string
	CredentialsJSON string

	// Discrete service account fields, used when neither file nor JSON is set.
	ClientEmail  string
	PrivateKey   string
	PrivateKeyID string
	TokenURI     string

	BearerTokenTimeout time.Duration
	ClickAction        string
}

// Enabled reports whether a service account source is configured.
func (c FCMConfig) Enabled() bool {
	return c.CredentialsFile != "" || c.CredentialsJSON != "" || (c.ClientEmail != "" && c.PrivateKey != "")
}

// ServiceAccountJSON returns the service account document from whichever
// source is configured.
func (c FCMConfig) ServiceAccountJSON() ([]byte, error) {
	switch {
	case c.CredentialsJSON != "":
		return []byte(c.CredentialsJSON), nil
	case c.CredentialsFile != "":
		return os.ReadFile(c.CredentialsFile)
	case c.ClientEmail != "" && c.PrivateKey != "":
		tokenURI := c.TokenURI
		if tokenURI == "" {
			tokenURI = "https://oauth2.googleapis.com/token"
		}
		return json.Marshal(map[string]string{
			"type":           "service_account",
			"project_id":     c.ProjectID,
			"private_key_id": c.PrivateKeyID,
			"private_key":    unescapeNewlines(c.PrivateKey),
			"client_email":   c.ClientEmail,
			"token_uri":      tokenURI,
		})
	}
	return nil, fmt.Errorf("no firebase service account configured")
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	FanoutWorkers    int
	SendRatePerSec   float64
	RequestTimeout   time.Duration
	AuthRequestToken string
	TokenStore       string

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	APNS       APNSConfig
	FCM        FCMConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// PipelineEnabled reports whether asynchronous ingestion is configured.
func (c *Config) PipelineEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	setString := func(key string, dest *string) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			*dest = val
		}
	}
	setPositiveInt := func(key string, dest *int) {
		if val := os.Getenv(key); val != "" {
			if n, err := strconv.Atoi(val); err == nil && n > 0 {
				logger.Debug("Overriding config value", "key", key, "source", "env")
				*dest = n
			} else {
				logger.Warn("Ignoring invalid integer override", "key", key, "value", val)
			}
		}
	}

	setString("PROJECT_ID", &cfg.ProjectID)
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	setString("TOPIC_ID", &cfg.TopicID)
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	setString("SUBSCRIPTION_DLQ_TOPIC_ID", &cfg.SubscriptionDLQTopicID)
	setPositiveInt("NUM_PIPELINE_WORKERS", &cfg.NumPipelineWorkers)
	setPositiveInt("FANOUT_WORKERS", &cfg.FanoutWorkers)
	if val := os.Getenv("SEND_RATE_PER_SEC"); val != "" {
		if r, err := strconv.ParseFloat(val, 64); err == nil && r >= 0 {
			logger.Debug("Overriding config value", "key", "SEND_RATE_PER_SEC", "source", "env")
			cfg.SendRatePerSec = r
		} else {
			logger.Warn("Ignoring invalid rate override", "key", "SEND_RATE_PER_SEC", "value", val)
		}
	}
	if val := os.Getenv("PROVIDER_TIMEOUT_SECS"); val != "" {
		if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
			cfg.RequestTimeout = time.Duration(secs) * time.Second
		}
	}
	setString("AUTH_REQUEST_TOKEN", &cfg.AuthRequestToken)
	setString("TOKEN_STORE", &cfg.TokenStore)

	// Redis Overrides
	if val := os.Getenv("REDIS_URL"); val != "" {
		cfg.Redis.URL = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	setString("REDIS_PASSWORD", &cfg.Redis.Password)
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// APNs Overrides
	setString("APNS_AUTH_KEY", &cfg.APNS.AuthKey)
	setString("APNS_AUTH_KEY_FILE", &cfg.APNS.AuthKeyFile)
	setString("APNS_AUTH_KEY_ID", &cfg.APNS.KeyID)
	setString("APNS_TEAM_ID", &cfg.APNS.TeamID)
	setString("APNS_TOPIC", &cfg.APNS.Topic)
	if val := os.Getenv("APNS_USE_SANDBOX"); val != "" {
		sandbox, _ := strconv.ParseBool(val)
		cfg.APNS.UseSandbox = sandbox
	}

	// FCM Overrides
	setString("FIREBASE_PROJECT_ID", &cfg.FCM.ProjectID)
	setString("FIREBASE_CREDENTIALS_FILE", &cfg.FCM.CredentialsFile)
	setString("FIREBASE_CREDENTIALS_JSON", &cfg.FCM.CredentialsJSON)
	setString("FIREBASE_CLIENT_EMAIL", &cfg.FCM.ClientEmail)
	setString("FIREBASE_PRIVATE_KEY", &cfg.FCM.PrivateKey)
	setString("FIREBASE_PRIVATE_KEY_ID", &cfg.FCM.PrivateKeyID)
	setString("FIREBASE_TOKEN_URI", &cfg.FCM.TokenURI)
	setString("FIREBASE_CLICK_ACTION", &cfg.FCM.ClickAction)
	if val := os.Getenv("FIREBASE_BEARER_TOKEN_TIMEOUT_MINS"); val != "" {
		if mins, err := strconv.Atoi(val); err == nil && mins > 0 {
			cfg.FCM.BearerTokenTimeout = time.Duration(mins) * time.Minute
		}
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.FanoutWorkers <= 0 {
		cfg.FanoutWorkers = 4
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.FCM.BearerTokenTimeout <= 0 {
		cfg.FCM.BearerTokenTimeout = 60 * time.Minute
	}

	switch cfg.TokenStore {
	case "":
		cfg.TokenStore = TokenStoreRedis
	case TokenStoreRedis, TokenStoreFirestore:
	default:
		return nil, fmt.Errorf("token_store must be %q or %q, got %q", TokenStoreRedis, TokenStoreFirestore, cfg.TokenStore)
	}

	if cfg.ProjectID == "" && (cfg.PipelineEnabled() || cfg.TokenStore == TokenStoreFirestore) {
		return nil, fmt.Errorf("project_id is required when pub/sub or firestore is used (set via YAML or PROJECT_ID env var)")
	}
	if cfg.TokenStore == TokenStoreRedis && !cfg.Redis.Enabled {
		logger.Warn("Redis is disabled; token registration and send-by-user are unavailable")
	}

	if !cfg.APNS.Enabled() {
		logger.Warn("APNs credentials missing. APNs pushes will be disabled.")
	}
	if !cfg.FCM.Enabled() {
		logger.Warn("Firebase credentials missing. FCM pushes will be disabled.")
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

// Keys pasted into env vars usually arrive with literal "\n" sequences.
func unescapeNewlines(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}
