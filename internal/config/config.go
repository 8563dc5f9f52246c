// Package config loads the engine's runtime knobs via viper: a YAML
// file, SYNCENGINE_-prefixed environment variables, and in-code
// defaults, in ascending priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the typed projection of the loaded settings.
type Config struct {
	BatchSize                 int           `mapstructure:"batch_size"`
	SinceDays                 int           `mapstructure:"since_days"`
	WorkerPoolSize            int           `mapstructure:"worker_pool_size"`
	CycleInterval             time.Duration `mapstructure:"cycle_interval"`
	ConnectTimeout            time.Duration `mapstructure:"connect_timeout"`
	GreetingTimeout           time.Duration `mapstructure:"greeting_timeout"`
	SocketTimeout             time.Duration `mapstructure:"socket_timeout"`
	DebugBounces              bool          `mapstructure:"debug_bounces"`
	SubjectFallbackThreading  bool          `mapstructure:"subject_fallback_threading"`
	LogLevel                  string        `mapstructure:"log_level"`
	LogSanitize               bool          `mapstructure:"log_sanitize"`
	LogHashSecret             string        `mapstructure:"log_hash_secret"`
	DatabasePath              string        `mapstructure:"database_path"`
	DecryptionPassphraseEnv   string        `mapstructure:"decryption_passphrase_env"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("batch_size", 100)
	v.SetDefault("since_days", 30)
	v.SetDefault("worker_pool_size", 1)
	v.SetDefault("cycle_interval", 5*time.Minute)
	v.SetDefault("connect_timeout", 20*time.Second)
	v.SetDefault("greeting_timeout", 15*time.Second)
	v.SetDefault("socket_timeout", 30*time.Second)
	v.SetDefault("debug_bounces", false)
	v.SetDefault("subject_fallback_threading", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_sanitize", true)
	v.SetDefault("log_hash_secret", "")
	v.SetDefault("database_path", "./data/syncengine.db")
	v.SetDefault("decryption_passphrase_env", "SYNCENGINE_PASSPHRASE")
}

// Load reads configFile (if it exists) layered under defaults and
// SYNCENGINE_-prefixed environment overrides, then validates the result.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("syncengine")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations that would violate the engine's
// concurrency or batching invariants.
func (c *Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.SinceDays < 0 {
		return fmt.Errorf("since_days must be >= 0, got %d", c.SinceDays)
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("worker_pool_size must be >= 1, got %d", c.WorkerPoolSize)
	}
	if c.CycleInterval <= 0 {
		return fmt.Errorf("cycle_interval must be > 0, got %s", c.CycleInterval)
	}
	return nil
}
