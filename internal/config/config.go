package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string   `mapstructure:"PORT"`
	Env             string   `mapstructure:"ENV"`
	DatabaseURL     string   `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL        string   `mapstructure:"REDIS_URL"`
	CacheTTLSeconds int      `mapstructure:"CACHE_TTL_SECONDS"`
	ICD11BaseURL    string   `mapstructure:"ICD11_BASE_URL"`
	ICD11TokenURL   string   `mapstructure:"ICD11_TOKEN_URL"`
	ICD11ClientID   string   `mapstructure:"ICD11_CLIENT_ID"`
	ICD11Secret     string   `mapstructure:"ICD11_CLIENT_SECRET"`
	ICD11RootEntity string   `mapstructure:"ICD11_ROOT_ENTITY"`
	SyncWorkers     int      `mapstructure:"SYNC_WORKERS"`
	JWTSecret       string   `mapstructure:"JWT_SECRET"`
	CORSOrigins     []string `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("CACHE_TTL_SECONDS", 3600)
	v.SetDefault("ICD11_BASE_URL", "https://id.who.int/icd/release/11/2024-01")
	v.SetDefault("ICD11_TOKEN_URL", "https://icdaccessmanagement.who.int/connect/token")
	v.SetDefault("ICD11_ROOT_ENTITY", "mms/26")
	v.SetDefault("SYNC_WORKERS", 4)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"REDIS_URL", "CACHE_TTL_SECONDS",
		"ICD11_BASE_URL", "ICD11_TOKEN_URL", "ICD11_CLIENT_ID",
		"ICD11_CLIENT_SECRET", "ICD11_ROOT_ENTITY", "SYNC_WORKERS",
		"JWT_SECRET", "CORS_ORIGINS",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// CacheTTL returns the default cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Validate checks that the configuration is safe to run. Outside development
// mode the WHO ICD-11 API credentials and a JWT secret must be present:
// without them synchronization and validation attribution cannot work.
func (c *Config) Validate() error {
	if c.SyncWorkers < 1 {
		return fmt.Errorf("SYNC_WORKERS must be at least 1, got %d", c.SyncWorkers)
	}
	if c.CacheTTLSeconds < 1 {
		return fmt.Errorf("CACHE_TTL_SECONDS must be at least 1, got %d", c.CacheTTLSeconds)
	}
	if c.IsDev() {
		return nil
	}
	if c.ICD11ClientID == "" || c.ICD11Secret == "" {
		return fmt.Errorf("ICD11_CLIENT_ID and ICD11_CLIENT_SECRET are required when ENV=%q", c.Env)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when ENV=%q", c.Env)
	}
	return nil
}
