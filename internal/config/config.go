// Package config resolves the gateway configuration from the process
// environment. All knobs documented in the README map onto one Config value
// created at startup; nothing is reloaded live.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	// MasterKeyPrefix marks a master API key on the wire.
	MasterKeyPrefix = "sk-"
	// APIKeyPrefix marks a per-project API key on the wire.
	APIKeyPrefix = "cmp_"

	defaultRatePerMinute = 60
	defaultRatePerHour   = 1000
	defaultRatePerDay    = 10000

	defaultAccessTokenTTL  = 3600   // seconds
	defaultRefreshTokenTTL = 604800 // seconds, 7 days
)

// RateLimits holds the three window capacities for one client class.
type RateLimits struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

// OAuthConfig holds the authorization-server settings.
type OAuthConfig struct {
	JWTSecretKey    string
	JWTAlgorithm    string
	AccessTokenTTL  int    // seconds
	RefreshTokenTTL int    // seconds
	StorageType     string // "json" or "memory"
	StoragePath     string
	Issuer          string
}

// Config is the resolved gateway configuration.
type Config struct {
	Listen   string
	DataDir  string
	LogDir   string
	LogLevel string

	// MasterKey is the shared master secret. When it was generated because
	// MASTER_API_KEY was absent, MasterKeyEphemeral is true.
	MasterKey          string
	MasterKeyEphemeral bool

	RateLimits RateLimits
	// PluginRateLimits carries per-plugin-type overrides keyed by lowercase
	// plugin type, e.g. "wordpress".
	PluginRateLimits map[string]RateLimits

	OAuth OAuthConfig
}

// Load resolves the configuration from the environment.
func Load(logger *zap.Logger) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("LISTEN", ":8080")
	v.SetDefault("DATA_DIR", "data")
	v.SetDefault("LOG_DIR", "logs")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", defaultRatePerMinute)
	v.SetDefault("RATE_LIMIT_PER_HOUR", defaultRatePerHour)
	v.SetDefault("RATE_LIMIT_PER_DAY", defaultRatePerDay)
	v.SetDefault("OAUTH_JWT_ALGORITHM", "HS256")
	v.SetDefault("OAUTH_ACCESS_TOKEN_TTL", defaultAccessTokenTTL)
	v.SetDefault("OAUTH_REFRESH_TOKEN_TTL", defaultRefreshTokenTTL)
	v.SetDefault("OAUTH_STORAGE_TYPE", "json")
	v.SetDefault("OAUTH_ISSUER", "http://localhost:8080")

	cfg := &Config{
		Listen:   v.GetString("LISTEN"),
		DataDir:  v.GetString("DATA_DIR"),
		LogDir:   v.GetString("LOG_DIR"),
		LogLevel: v.GetString("LOG_LEVEL"),
		RateLimits: RateLimits{
			PerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
			PerHour:   v.GetInt("RATE_LIMIT_PER_HOUR"),
			PerDay:    v.GetInt("RATE_LIMIT_PER_DAY"),
		},
		PluginRateLimits: loadPluginRateOverrides(),
		OAuth: OAuthConfig{
			JWTSecretKey:    v.GetString("OAUTH_JWT_SECRET_KEY"),
			JWTAlgorithm:    v.GetString("OAUTH_JWT_ALGORITHM"),
			AccessTokenTTL:  v.GetInt("OAUTH_ACCESS_TOKEN_TTL"),
			RefreshTokenTTL: v.GetInt("OAUTH_REFRESH_TOKEN_TTL"),
			StorageType:     v.GetString("OAUTH_STORAGE_TYPE"),
			StoragePath:     v.GetString("OAUTH_STORAGE_PATH"),
			Issuer:          v.GetString("OAUTH_ISSUER"),
		},
	}

	if cfg.OAuth.StoragePath == "" {
		cfg.OAuth.StoragePath = cfg.DataDir
	}

	cfg.MasterKey = v.GetString("MASTER_API_KEY")
	if cfg.MasterKey == "" {
		key, err := generateMasterKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral master key: %w", err)
		}
		cfg.MasterKey = key
		cfg.MasterKeyEphemeral = true
		if logger != nil {
			logger.Warn("MASTER_API_KEY not set, generated ephemeral master key; it will not survive a restart",
				zap.String("master_key", cfg.MasterKey))
		}
	}

	if cfg.OAuth.JWTSecretKey == "" {
		secret, err := randomURLSafe(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		cfg.OAuth.JWTSecretKey = secret
		if logger != nil {
			logger.Warn("OAUTH_JWT_SECRET_KEY not set, generated ephemeral signing secret; issued tokens will not survive a restart")
		}
	}

	return cfg, nil
}

// loadPluginRateOverrides scans the environment for
// {PLUGIN}_RATE_LIMIT_PER_{MINUTE,HOUR,DAY} overrides.
func loadPluginRateOverrides() map[string]RateLimits {
	overrides := make(map[string]RateLimits)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		idx := strings.Index(key, "_RATE_LIMIT_PER_")
		if idx <= 0 {
			continue
		}
		plugin := strings.ToLower(key[:idx])
		window := key[idx+len("_RATE_LIMIT_PER_"):]
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			continue
		}
		limits := overrides[plugin]
		switch window {
		case "MINUTE":
			limits.PerMinute = n
		case "HOUR":
			limits.PerHour = n
		case "DAY":
			limits.PerDay = n
		default:
			continue
		}
		overrides[plugin] = limits
	}
	return overrides
}

// LimitsForPlugin returns the effective limits for a plugin type, applying
// any per-plugin overrides on top of the global defaults.
func (c *Config) LimitsForPlugin(pluginType string) RateLimits {
	limits := c.RateLimits
	override, ok := c.PluginRateLimits[strings.ToLower(pluginType)]
	if !ok {
		return limits
	}
	if override.PerMinute > 0 {
		limits.PerMinute = override.PerMinute
	}
	if override.PerHour > 0 {
		limits.PerHour = override.PerHour
	}
	if override.PerDay > 0 {
		limits.PerDay = override.PerDay
	}
	return limits
}

func generateMasterKey() (string, error) {
	s, err := randomURLSafe(24)
	if err != nil {
		return "", err
	}
	return MasterKeyPrefix + s, nil
}

func randomURLSafe(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
