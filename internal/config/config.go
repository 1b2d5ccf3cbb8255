// Package config loads the validator's configuration from config.yaml, EMAILVAL_* environment
// variables and defaults.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shpitdev/email-batch-validator/internal/quota"
)

// EnvPrefix prefixes every environment override, e.g. EMAILVAL_API_BASE_URL.
const EnvPrefix = "EMAILVAL"

// Config holds the full application configuration.
type Config struct {
	API     APIConfig     `yaml:"api" mapstructure:"api"`
	Flush   FlushConfig   `yaml:"flush" mapstructure:"flush"`
	Quota   QuotaConfig   `yaml:"quota" mapstructure:"quota"`
	History HistoryConfig `yaml:"history" mapstructure:"history"`
	Session SessionConfig `yaml:"session" mapstructure:"session"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// APIConfig configures the validation backend.
type APIConfig struct {
	BaseURL       string        `yaml:"base_url" mapstructure:"base_url"`
	CAPath        string        `yaml:"ca_path" mapstructure:"ca_path"`
	StreamTimeout time.Duration `yaml:"stream_timeout" mapstructure:"stream_timeout"`
	BulkTimeout   time.Duration `yaml:"bulk_timeout" mapstructure:"bulk_timeout"`
	Streaming     bool          `yaml:"streaming" mapstructure:"streaming"`
	Advanced      bool          `yaml:"advanced" mapstructure:"advanced"`
}

// FlushConfig controls how often results reach observers.
type FlushConfig struct {
	Threshold int           `yaml:"threshold" mapstructure:"threshold"`
	Interval  time.Duration `yaml:"interval" mapstructure:"interval"`
}

// QuotaConfig configures pre-flight admission.
type QuotaConfig struct {
	AnonymousLimit        int  `yaml:"anonymous_limit" mapstructure:"anonymous_limit"`
	AnonymousBatchEnabled bool `yaml:"anonymous_batch_enabled" mapstructure:"anonymous_batch_enabled"`
	// AnonymousAllowOverflow admits a batch larger than the remaining anonymous allowance as
	// long as the counter is still below the ceiling.
	AnonymousAllowOverflow bool         `yaml:"anonymous_allow_overflow" mapstructure:"anonymous_allow_overflow"`
	Tiers                  []quota.Tier `yaml:"tiers" mapstructure:"tiers"`
}

// Options converts the config into gatekeeper options.
func (q QuotaConfig) Options() quota.Options {
	return quota.Options{
		AnonymousLimit:         q.AnonymousLimit,
		AnonymousBatchEnabled:  q.AnonymousBatchEnabled,
		AnonymousAllowOverflow: q.AnonymousAllowOverflow,
		Tiers:                  q.Tiers,
	}
}

// HistoryConfig configures the local result history kept for anonymous callers.
type HistoryConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Path      string `yaml:"path" mapstructure:"path"`
	Cap       int    `yaml:"cap" mapstructure:"cap"`
	QueueSize int    `yaml:"queue_size" mapstructure:"queue_size"`
}

// SessionConfig locates the persisted caller session.
type SessionConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration. path names an explicit config file; when empty, config.yaml is
// looked up in the working directory and the user config directory, and is optional.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(stateDir())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.ca_path", "")
	v.SetDefault("api.stream_timeout", 300*time.Second)
	v.SetDefault("api.bulk_timeout", 600*time.Second)
	v.SetDefault("api.streaming", true)
	v.SetDefault("api.advanced", false)
	v.SetDefault("flush.threshold", 20)
	v.SetDefault("flush.interval", 100*time.Millisecond)
	v.SetDefault("quota.anonymous_limit", 5)
	v.SetDefault("quota.anonymous_batch_enabled", true)
	v.SetDefault("quota.anonymous_allow_overflow", false)
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", filepath.Join(stateDir(), "history.db"))
	v.SetDefault("history.cap", 100)
	v.SetDefault("history.queue_size", 16)
	v.SetDefault("session.path", filepath.Join(stateDir(), "session.yaml"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.API.BaseURL) == "":
		return eris.New("config: api.base_url is required")
	case c.API.StreamTimeout <= 0:
		return eris.New("config: api.stream_timeout must be positive")
	case c.API.BulkTimeout <= 0:
		return eris.New("config: api.bulk_timeout must be positive")
	case c.Flush.Threshold <= 0:
		return eris.New("config: flush.threshold must be positive")
	case c.Flush.Interval <= 0:
		return eris.New("config: flush.interval must be positive")
	case c.History.Enabled && c.History.Cap <= 0:
		return eris.New("config: history.cap must be positive")
	}
	for _, t := range c.Quota.Tiers {
		if strings.TrimSpace(t.Name) == "" || t.Limit <= 0 {
			return eris.Errorf("config: invalid quota tier %+v", t)
		}
	}
	return nil
}

// stateDir is where the session and history live by default.
func stateDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "email-batch-validator")
	}
	return ".email-batch-validator"
}

// InitLogger builds the logger described by cfg and installs it as the zap global.
func InitLogger(cfg LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
