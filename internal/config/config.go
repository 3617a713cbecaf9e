package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (TILTH_BACKEND_URL, ...).
const EnvPrefix = "TILTH"

// Config holds application configuration.
type Config struct {
	// BackendURL is the base URL of the remote REST backend.
	// Empty means the in-process backend is used (demo and tests).
	BackendURL string `json:"backend_url,omitempty" mapstructure:"backend_url"`

	// BackendKey is sent as both apikey and bearer token to the backend.
	BackendKey string `json:"backend_key,omitempty" mapstructure:"backend_key"`

	// AIAPIKey enables diagnosis and question answering. Empty disables both.
	AIAPIKey string `json:"ai_api_key,omitempty" mapstructure:"ai_api_key"`

	// AIModel is the model name passed to the inference client.
	AIModel string `json:"ai_model,omitempty" mapstructure:"ai_model"`

	// ProbeURL is polled to detect connectivity. Empty disables the probe.
	ProbeURL string `json:"probe_url,omitempty" mapstructure:"probe_url"`

	// ProbeIntervalSeconds is the delay between connectivity probes.
	ProbeIntervalSeconds int `json:"probe_interval_seconds,omitempty" mapstructure:"probe_interval_seconds"`

	// SignalFile is a host-written file containing "online" or "offline".
	// Empty disables the file signal.
	SignalFile string `json:"signal_file,omitempty" mapstructure:"signal_file"`

	// SyncNoticeSeconds is how long the sync-complete notice stays visible.
	SyncNoticeSeconds int `json:"sync_notice_seconds,omitempty" mapstructure:"sync_notice_seconds"`

	// MaxAttachmentBytes caps image attachments read from disk.
	MaxAttachmentBytes int64 `json:"max_attachment_bytes,omitempty" mapstructure:"max_attachment_bytes"`

	// RequestsPerSecond limits outgoing backend calls. 0 disables limiting.
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" mapstructure:"requests_per_second"`

	// UserID and UserEmail identify the signed-in farmer on queued actions.
	UserID    string `json:"user_id,omitempty" mapstructure:"user_id"`
	UserEmail string `json:"user_email,omitempty" mapstructure:"user_email"`

	// Language selects answer and notice text: "en" or "te".
	Language string `json:"language,omitempty" mapstructure:"language"`

	// LogLevel is a zap level name (debug, info, warn, error).
	LogLevel string `json:"log_level,omitempty" mapstructure:"log_level"`

	// SentryDSN enables drain failure reporting when set.
	SentryDSN string `json:"sentry_dsn,omitempty" mapstructure:"sentry_dsn"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty" mapstructure:"db_max_open_conns"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty" mapstructure:"db_max_idle_conns"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty" mapstructure:"disabled_tools"`

	// HTTPBind and HTTPPort are the listen address for `tilth serve`.
	HTTPBind string `json:"http_bind,omitempty" mapstructure:"http_bind"`
	HTTPPort int    `json:"http_port,omitempty" mapstructure:"http_port"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		AIModel:              "claude-sonnet-4-5",
		ProbeIntervalSeconds: 15,
		SyncNoticeSeconds:    5,
		MaxAttachmentBytes:   10 << 20,
		RequestsPerSecond:    10,
		Language:             "en",
		LogLevel:             "info",
		HTTPBind:             "127.0.0.1",
		HTTPPort:             8737,
	}
}

// Load loads configuration from baseDir/config.json with TILTH_* environment overrides.
// Returns default config (plus any env overrides) if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.tilth.
func Load(baseDir string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := filepath.Join(baseDir, "config.json")
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.DisabledTools = normalizeList(cfg.DisabledTools)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("backend_url", d.BackendURL)
	v.SetDefault("backend_key", d.BackendKey)
	v.SetDefault("ai_api_key", d.AIAPIKey)
	v.SetDefault("ai_model", d.AIModel)
	v.SetDefault("probe_url", d.ProbeURL)
	v.SetDefault("probe_interval_seconds", d.ProbeIntervalSeconds)
	v.SetDefault("signal_file", d.SignalFile)
	v.SetDefault("sync_notice_seconds", d.SyncNoticeSeconds)
	v.SetDefault("max_attachment_bytes", d.MaxAttachmentBytes)
	v.SetDefault("requests_per_second", d.RequestsPerSecond)
	v.SetDefault("user_id", d.UserID)
	v.SetDefault("user_email", d.UserEmail)
	v.SetDefault("language", d.Language)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("sentry_dsn", d.SentryDSN)
	v.SetDefault("db_max_open_conns", d.DBMaxOpenConns)
	v.SetDefault("db_max_idle_conns", d.DBMaxIdleConns)
	v.SetDefault("disabled_tools", d.DisabledTools)
	v.SetDefault("http_bind", d.HTTPBind)
	v.SetDefault("http_port", d.HTTPPort)
}

// Validate rejects values the rest of the application cannot work with.
func (c *Config) Validate() error {
	switch c.Language {
	case "en", "te":
	default:
		return fmt.Errorf("language must be \"en\" or \"te\", got %q", c.Language)
	}
	if c.SyncNoticeSeconds <= 0 {
		return fmt.Errorf("sync_notice_seconds must be positive")
	}
	if c.ProbeIntervalSeconds <= 0 {
		return fmt.Errorf("probe_interval_seconds must be positive")
	}
	if c.MaxAttachmentBytes <= 0 {
		return fmt.Errorf("max_attachment_bytes must be positive")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}
	return nil
}

// SyncNoticeDuration returns SyncNoticeSeconds as a duration.
func (c *Config) SyncNoticeDuration() time.Duration {
	return time.Duration(c.SyncNoticeSeconds) * time.Second
}

// ProbeInterval returns ProbeIntervalSeconds as a duration.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSeconds) * time.Second
}

// normalizeList trims whitespace and removes empty and duplicate entries.
func normalizeList(in []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
