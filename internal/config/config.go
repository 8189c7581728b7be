// Package config loads gateway configuration from env and an optional .env
// file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the gateway reads from the environment.
type Config struct {
	// DeviceAddr is the TLS listener address for the device population.
	DeviceAddr string `mapstructure:"DEVICE_ADDR"`
	// OperatorAddr is the TLS listener address for the operator population.
	OperatorAddr string `mapstructure:"OPERATOR_ADDR"`
	// TLSCertFile / TLSKeyFile are the server certificate pair; required.
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
	// DatabaseURL is the Postgres DSN; required.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// AdminDatabaseURL is an elevated DSN reserved for schema operations.
	AdminDatabaseURL string `mapstructure:"ADMIN_DATABASE_URL"`
	// MigrationsDir holds numbered .sql migration scripts.
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`
	// StaticDir is the operator web UI root served on the operator listener.
	StaticDir string `mapstructure:"STATIC_DIR"`
	// BinaryFrames switches WebSocket framing from text to binary.
	BinaryFrames bool `mapstructure:"BINARY_FRAMES"`
	// ReapIntervalSeconds is how often each population sweeps its sessions.
	ReapIntervalSeconds int `mapstructure:"REAP_INTERVAL_SECONDS"`
	// UnauthMaxAgeSeconds is how long a session may stay unauthenticated.
	UnauthMaxAgeSeconds int `mapstructure:"UNAUTH_MAX_AGE_SECONDS"`
	// MasterSecret signs admin API tokens; required.
	MasterSecret string `mapstructure:"MASTER_SECRET"`
	// TokenExpirySeconds is the admin API token lifetime.
	TokenExpirySeconds int `mapstructure:"TOKEN_EXPIRY_SECONDS"`
	// GinMode is passed to gin.SetMode.
	GinMode string `mapstructure:"GIN_MODE"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Missing .env is ignored; env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("DEVICE_ADDR", ":8443")
	v.SetDefault("OPERATOR_ADDR", ":9443")
	v.SetDefault("TLS_CERT_FILE", "")
	v.SetDefault("TLS_KEY_FILE", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("ADMIN_DATABASE_URL", "")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("STATIC_DIR", "webui")
	v.SetDefault("BINARY_FRAMES", false)
	v.SetDefault("REAP_INTERVAL_SECONDS", 10)
	v.SetDefault("UNAUTH_MAX_AGE_SECONDS", 20)
	v.SetDefault("MASTER_SECRET", "")
	v.SetDefault("TOKEN_EXPIRY_SECONDS", 0)
	v.SetDefault("GIN_MODE", "release")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.TLSCertFile == "" || cfg.TLSKeyFile == "" {
		return nil, errors.New("config: TLS_CERT_FILE and TLS_KEY_FILE must be set")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("config: DATABASE_URL must be set")
	}
	if cfg.MasterSecret == "" {
		return nil, errors.New("config: MASTER_SECRET must be set")
	}
	if cfg.ReapIntervalSeconds <= 0 {
		return nil, errors.New("config: REAP_INTERVAL_SECONDS must be positive")
	}
	if cfg.UnauthMaxAgeSeconds <= 0 {
		return nil, errors.New("config: UNAUTH_MAX_AGE_SECONDS must be positive")
	}

	return &cfg, nil
}

// ReapInterval returns the reaper tick interval.
func (c *Config) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalSeconds) * time.Second
}

// UnauthMaxAge returns the unauthenticated-session eviction threshold.
func (c *Config) UnauthMaxAge() time.Duration {
	return time.Duration(c.UnauthMaxAgeSeconds) * time.Second
}

// TokenExpiry returns the admin token lifetime. Returns 24h if unset or invalid.
func (c *Config) TokenExpiry() time.Duration {
	if c.TokenExpirySeconds <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.TokenExpirySeconds) * time.Second
}
