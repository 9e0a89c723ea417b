package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration for the sync client.
type Config struct {
	AppName                string
	AppEnv                 string
	GatewayBaseURL         string
	GatewayWebsocketURL    string
	GatewayTimeout         time.Duration
	ViewerID               string
	ViewerRole             string
	RedisURL               string
	WarmCacheTTL           time.Duration
	NATSURL                string
	MetricsAddr            string
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
}

// WarmCacheEnabled reports whether a Redis warm store should be wired.
func (c Config) WarmCacheEnabled() bool {
	return c.RedisURL != ""
}

// EventsEnabled reports whether the NATS event publisher should be wired.
func (c Config) EventsEnabled() bool {
	return c.NATSURL != ""
}

// UploaderEnabled reports whether direct-to-CDN attachment upload is
// configured; without it, attachments travel to the gateway as multipart.
func (c Config) UploaderEnabled() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

// Load reads configuration values from environment variables and an optional
// .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ENGAGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "engage-sync")
	v.SetDefault("app.env", "development")
	v.SetDefault("gateway.timeout", "10s")
	v.SetDefault("viewer.role", "staff")
	v.SetDefault("warm_cache_ttl", "30m")
	v.SetDefault("cloudinary.folder", "engage/attachments")

	timeout, err := time.ParseDuration(v.GetString("gateway.timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid gateway timeout: %w", err)
	}

	warmTTL, err := time.ParseDuration(v.GetString("warm_cache_ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid warm cache ttl: %w", err)
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		GatewayBaseURL:         v.GetString("gateway.base_url"),
		GatewayWebsocketURL:    v.GetString("gateway.websocket_url"),
		GatewayTimeout:         timeout,
		ViewerID:               v.GetString("viewer.id"),
		ViewerRole:             v.GetString("viewer.role"),
		RedisURL:               v.GetString("redis.url"),
		WarmCacheTTL:           warmTTL,
		NATSURL:                v.GetString("nats.url"),
		MetricsAddr:            v.GetString("metrics.addr"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
	}

	if cfg.GatewayBaseURL == "" {
		return Config{}, fmt.Errorf("gateway base url must be provided")
	}

	if cfg.GatewayTimeout <= 0 {
		return Config{}, fmt.Errorf("gateway timeout must be positive")
	}

	return cfg, nil
}
