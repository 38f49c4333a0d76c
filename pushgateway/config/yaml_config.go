package config

import (
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	URL      string `yaml:"url"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlAPNSConfig struct {
	AuthKeyFile string `yaml:"auth_key_file"`
	KeyID       string `yaml:"key_id"`
	TeamID      string `yaml:"team_id"`
	Topic       string `yaml:"topic"`
	UseSandbox  bool   `yaml:"use_sandbox"`
}

type YamlFCMConfig struct {
	ProjectID              string `yaml:"project_id"`
	CredentialsFile        string `yaml:"credentials_file"`
	BearerTokenTimeoutMins int    `yaml:"bearer_token_timeout_mins"`
	ClickAction            string `yaml:"click_action"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
// Secrets are not read from YAML; they arrive through the environment.
type YamlConfig struct {
	ProjectID              string          `yaml:"project_id"`
	ListenAddr             string          `yaml:"listen_addr"`
	TopicID                string          `yaml:"topic_id"`
	SubscriptionID         string          `yaml:"subscription_id"`
	SubscriptionDLQTopicID string          `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int             `yaml:"num_pipeline_workers"`
	FanoutWorkers          int             `yaml:"fanout_workers"`
	SendRatePerSec         float64         `yaml:"send_rate_per_sec"`
	ProviderTimeoutSecs    int             `yaml:"provider_timeout_secs"`
	TokenStore             string          `yaml:"token_store"`
	CorsConfig             YamlCorsConfig  `yaml:"cors"`
	RedisConfig            YamlRedisConfig `yaml:"redis"`
	APNSConfig             YamlAPNSConfig  `yaml:"apns"`
	FCMConfig              YamlFCMConfig   `yaml:"fcm"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:              baseCfg.ProjectID,
		ListenAddr:             baseCfg.ListenAddr,
		TopicID:                baseCfg.TopicID,
		SubscriptionID:         baseCfg.SubscriptionID,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
		FanoutWorkers:          baseCfg.FanoutWorkers,
		SendRatePerSec:         baseCfg.SendRatePerSec,
		RequestTimeout:         time.Duration(baseCfg.ProviderTimeoutSecs) * time.Second,
		TokenStore:             baseCfg.TokenStore,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			URL:      baseCfg.RedisConfig.URL,
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		APNS: APNSConfig{
			AuthKeyFile: baseCfg.APNSConfig.AuthKeyFile,
			KeyID:       baseCfg.APNSConfig.KeyID,
			TeamID:      baseCfg.APNSConfig.TeamID,
			Topic:       baseCfg.APNSConfig.Topic,
			UseSandbox:  baseCfg.APNSConfig.UseSandbox,
		},
		FCM: FCMConfig{
			ProjectID:          baseCfg.FCMConfig.ProjectID,
			CredentialsFile:    baseCfg.FCMConfig.CredentialsFile,
			BearerTokenTimeout: time.Duration(baseCfg.FCMConfig.BearerTokenTimeoutMins) * time.Minute,
			ClickAction:        baseCfg.FCMConfig.ClickAction,
		},
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"token_store", cfg.TokenStore,
	)

	return cfg, nil
}
