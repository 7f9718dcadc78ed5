// Package config loads service settings from flags, the environment and an
// optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mrsingh-rishi/voice-relay/model"
)

type Config struct {
	Port int

	DeepgramAPIKey string
	DeepgramModel  string
	KeepAlive      time.Duration

	DatabaseURL string

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseJWTSecret  string
	JWTAudience        string
	StorageBucket      string

	OpenAIAPIKey string
	OpenAIModel  string

	Limits       model.Limits
	ShareTTL     time.Duration
	SignedURLTTL time.Duration

	LogLevel string
	Debug    bool
}

// LoadDotEnv reads .env into the process environment if it exists.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// SetDefaults registers defaults and environment lookup on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 8000)
	v.SetDefault("deepgram_model", "nova-2")
	v.SetDefault("keepalive_interval", 5*time.Second)
	v.SetDefault("storage_bucket", "recordings")
	v.SetDefault("jwt_audience", "authenticated")
	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("free_limit_seconds", int(model.DefaultLimits.Free/time.Second))
	v.SetDefault("pro_limit_seconds", int(model.DefaultLimits.Pro/time.Second))
	v.SetDefault("share_ttl", 24*time.Hour)
	v.SetDefault("signed_url_ttl", time.Hour)
	v.SetDefault("log_level", "info")
	v.SetDefault("debug", false)
	v.AutomaticEnv()
}

// Load reads settings from v and checks the required ones.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:               v.GetInt("port"),
		DeepgramAPIKey:     v.GetString("deepgram_api_key"),
		DeepgramModel:      v.GetString("deepgram_model"),
		KeepAlive:          v.GetDuration("keepalive_interval"),
		DatabaseURL:        v.GetString("database_url"),
		SupabaseURL:        v.GetString("supabase_url"),
		SupabaseServiceKey: v.GetString("supabase_service_key"),
		SupabaseJWTSecret:  v.GetString("supabase_jwt_secret"),
		JWTAudience:        v.GetString("jwt_audience"),
		StorageBucket:      v.GetString("storage_bucket"),
		OpenAIAPIKey:       v.GetString("openai_api_key"),
		OpenAIModel:        v.GetString("openai_model"),
		Limits: model.Limits{
			Free: time.Duration(v.GetInt("free_limit_seconds")) * time.Second,
			Pro:  time.Duration(v.GetInt("pro_limit_seconds")) * time.Second,
		},
		ShareTTL:     v.GetDuration("share_ttl"),
		SignedURLTTL: v.GetDuration("signed_url_ttl"),
		LogLevel:     strings.ToLower(v.GetString("log_level")),
		Debug:        v.GetBool("debug"),
	}

	var missing []string
	if cfg.DeepgramAPIKey == "" {
		missing = append(missing, "DEEPGRAM_API_KEY")
	}
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.SupabaseJWTSecret == "" {
		missing = append(missing, "SUPABASE_JWT_SECRET")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.Limits.Free <= 0 || cfg.Limits.Pro <= 0 {
		return nil, fmt.Errorf("tier limits must be positive")
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// StorageEnabled reports whether audio uploads are configured.
func (c *Config) StorageEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}
