// Package config handles configuration loading and management for roundtable.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ShayCichocki/roundtable/internal/logging"
)

const (
	appName           = "roundtable"
	configFileName    = "config.yaml"
	projectConfigName = ".roundtable.yaml"
)

// Config holds all configuration for roundtable.
type Config struct {
	Model    ModelConfig    `mapstructure:"model"`
	Team     TeamConfig     `mapstructure:"team"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Server   ServerConfig   `mapstructure:"server"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ModelConfig selects the model endpoint every agent speaks through.
type ModelConfig struct {
	// Provider is one of ollama, openai, anthropic, bedrock.
	Provider    string  `mapstructure:"provider"`
	Name        string  `mapstructure:"name"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`

	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`

	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// TeamConfig holds conversation settings.
type TeamConfig struct {
	MaxRounds     int           `mapstructure:"max_rounds"`
	ContextBudget int           `mapstructure:"context_budget"`
	TruncateAfter int           `mapstructure:"truncate_after"`
	Timeout       time.Duration `mapstructure:"timeout"`
	// RoundRobin picks speakers in order; when false the model chooses.
	RoundRobin     bool `mapstructure:"round_robin"`
	DynamicRouting bool `mapstructure:"dynamic_routing"`
	MaxToolRounds  int  `mapstructure:"max_tool_rounds"`
}

// ToolsConfig holds tool settings.
type ToolsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// SearchRate is the sustained web searches per second.
	SearchRate  float64 `mapstructure:"search_rate"`
	SearchBurst int     `mapstructure:"search_burst"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	RequireAuth     bool          `mapstructure:"require_auth"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	// TrustedProxies are addresses or CIDR ranges whose X-Forwarded-For
	// header is believed. Empty means clients are keyed by their own address.
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
	SubmitPerMinute int           `mapstructure:"submit_per_minute"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// QueueConfig holds background dispatcher settings.
type QueueConfig struct {
	Workers    int           `mapstructure:"workers"`
	Backlog    int           `mapstructure:"backlog"`
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// DatabaseConfig holds persistence settings. An empty Path means the XDG
// data directory.
type DatabaseConfig struct {
	Path   string `mapstructure:"path"`
	Driver string `mapstructure:"driver"`
}

// RedisConfig holds result cache settings.
type RedisConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Dir         string `mapstructure:"dir"`
	FileLogging bool   `mapstructure:"file_logging"`
}

// MetricsConfig holds metrics collection settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// envBindings maps config keys to the environment variables overriding them.
var envBindings = map[string]string{
	"model.provider":          "MODEL_TYPE",
	"model.name":              "MODEL_NAME",
	"model.temperature":       "TEMPERATURE",
	"model.base_url":          "OLLAMA_BASE_URL",
	"model.openai_api_key":    "OPENAI_API_KEY",
	"model.anthropic_api_key": "ANTHROPIC_API_KEY",
	"team.max_rounds":         "MAX_ROUNDS",
	"team.round_robin":        "ENABLE_ROUND_ROBIN",
	"logging.level":           "LOG_LEVEL",
	"logging.file_logging":    "ENABLE_FILE_LOGGING",
	"metrics.enabled":         "ENABLE_METRICS",
	"redis.url":               "REDIS_URL",
	"database.path":           "DATABASE_PATH",
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (MODEL_TYPE, OPENAI_API_KEY, ...)
// 2. Project config (.roundtable.yaml in current directory or parent)
// 3. User config (~/.config/roundtable/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return unmarshal(v)
}

// Lookup returns the effective value of key, such as "team.max_rounds".
func Lookup(key string) (any, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	key = strings.ToLower(key)
	if !v.IsSet(key) {
		return nil, fmt.Errorf("unknown config key %q", key)
	}
	return v.Get(key), nil
}

// Keys returns every known config key in sorted order.
func Keys() []string {
	v := viper.New()
	setDefaults(v)
	keys := v.AllKeys()
	sort.Strings(keys)
	return keys
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}
	return v, nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references in secrets.
	cfg.Model.OpenAIAPIKey = expandEnv(cfg.Model.OpenAIAPIKey)
	cfg.Model.AnthropicAPIKey = expandEnv(cfg.Model.AnthropicAPIKey)
	cfg.Redis.URL = expandEnv(cfg.Redis.URL)
	return cfg, nil
}

// Save writes cfg to the user config file.
func Save(cfg *Config) error {
	return SaveTo(GetUserConfigPath(), cfg)
}

// SaveTo writes cfg to path.
func SaveTo(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	for key, value := range settings(cfg) {
		v.Set(key, value)
	}

	return v.WriteConfig()
}

// settings flattens cfg into dotted keys. Durations are rendered as strings.
func settings(cfg *Config) map[string]any {
	return map[string]any{
		"model.provider":           cfg.Model.Provider,
		"model.name":               cfg.Model.Name,
		"model.base_url":           cfg.Model.BaseURL,
		"model.temperature":        cfg.Model.Temperature,
		"model.max_tokens":         cfg.Model.MaxTokens,
		"model.openai_api_key":     cfg.Model.OpenAIAPIKey,
		"model.anthropic_api_key":  cfg.Model.AnthropicAPIKey,
		"model.aws_region":         cfg.Model.AWSRegion,
		"model.aws_profile":        cfg.Model.AWSProfile,
		"team.max_rounds":          cfg.Team.MaxRounds,
		"team.context_budget":      cfg.Team.ContextBudget,
		"team.truncate_after":      cfg.Team.TruncateAfter,
		"team.timeout":             cfg.Team.Timeout.String(),
		"team.round_robin":         cfg.Team.RoundRobin,
		"team.dynamic_routing":     cfg.Team.DynamicRouting,
		"team.max_tool_rounds":     cfg.Team.MaxToolRounds,
		"tools.enabled":            cfg.Tools.Enabled,
		"tools.search_rate":        cfg.Tools.SearchRate,
		"tools.search_burst":       cfg.Tools.SearchBurst,
		"server.addr":              cfg.Server.Addr,
		"server.require_auth":      cfg.Server.RequireAuth,
		"server.allowed_origins":   cfg.Server.AllowedOrigins,
		"server.trusted_proxies":   cfg.Server.TrustedProxies,
		"server.submit_per_minute": cfg.Server.SubmitPerMinute,
		"server.shutdown_timeout":  cfg.Server.ShutdownTimeout.String(),
		"queue.workers":            cfg.Queue.Workers,
		"queue.backlog":            cfg.Queue.Backlog,
		"queue.job_timeout":        cfg.Queue.JobTimeout.String(),
		"database.path":            cfg.Database.Path,
		"database.driver":          cfg.Database.Driver,
		"redis.enabled":            cfg.Redis.Enabled,
		"redis.url":                cfg.Redis.URL,
		"redis.ttl":                cfg.Redis.TTL.String(),
		"logging.level":            cfg.Logging.Level,
		"logging.dir":              cfg.Logging.Dir,
		"logging.file_logging":     cfg.Logging.FileLogging,
		"metrics.enabled":          cfg.Metrics.Enabled,
		"metrics.dir":              cfg.Metrics.Dir,
	}
}

// SetValue stores a single key in the user config file, keeping the rest of
// the file intact.
func SetValue(key, value string) error {
	key = strings.ToLower(key)
	defaults := viper.New()
	setDefaults(defaults)
	if !defaults.IsSet(key) {
		return fmt.Errorf("unknown config key %q", key)
	}

	dir := getUserConfigDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	path := filepath.Join(dir, configFileName)

	v := viper.New()
	v.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading user config: %w", err)
		}
	}
	v.Set(key, value)
	return v.WriteConfig()
}

// Watch reloads the config file at path whenever it changes and passes the
// result to onChange. Files that fail to parse are logged and skipped.
func Watch(path string, onChange func(*Config, fsnotify.Event), logger *zap.SugaredLogger) error {
	logger = logging.OrDefault(logger)

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config from %s: %w", path, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := unmarshal(v)
		if err != nil {
			logger.Warnw("ignoring unreadable config change", "file", e.Name, "error", err)
			return
		}
		onChange(cfg, e)
	})
	v.WatchConfig()
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), configFileName)
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("model.provider", d.Model.Provider)
	v.SetDefault("model.name", d.Model.Name)
	v.SetDefault("model.base_url", d.Model.BaseURL)
	v.SetDefault("model.temperature", d.Model.Temperature)
	v.SetDefault("model.max_tokens", d.Model.MaxTokens)
	v.SetDefault("model.openai_api_key", "")
	v.SetDefault("model.anthropic_api_key", "")
	v.SetDefault("model.aws_region", "")
	v.SetDefault("model.aws_profile", "")

	v.SetDefault("team.max_rounds", d.Team.MaxRounds)
	v.SetDefault("team.context_budget", d.Team.ContextBudget)
	v.SetDefault("team.truncate_after", d.Team.TruncateAfter)
	v.SetDefault("team.timeout", "0s")
	v.SetDefault("team.round_robin", d.Team.RoundRobin)
	v.SetDefault("team.dynamic_routing", d.Team.DynamicRouting)
	v.SetDefault("team.max_tool_rounds", d.Team.MaxToolRounds)

	v.SetDefault("tools.enabled", d.Tools.Enabled)
	v.SetDefault("tools.search_rate", d.Tools.SearchRate)
	v.SetDefault("tools.search_burst", d.Tools.SearchBurst)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.require_auth", d.Server.RequireAuth)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.trusted_proxies", d.Server.TrustedProxies)
	v.SetDefault("server.submit_per_minute", d.Server.SubmitPerMinute)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("queue.workers", d.Queue.Workers)
	v.SetDefault("queue.backlog", d.Queue.Backlog)
	v.SetDefault("queue.job_timeout", "10m")

	v.SetDefault("database.path", "")
	v.SetDefault("database.driver", d.Database.Driver)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.url", d.Redis.URL)
	v.SetDefault("redis.ttl", "1h")

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.dir", d.Logging.Dir)
	v.SetDefault("logging.file_logging", d.Logging.FileLogging)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.dir", d.Metrics.Dir)
}

// getUserConfigDir returns the XDG config directory for roundtable.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, appName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", appName)
	}
	return filepath.Join(home, ".config", appName)
}

// findProjectConfig searches for .roundtable.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, projectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:    "ollama",
			Name:        "",
			BaseURL:     "",
			Temperature: 0.7,
		},
		Team: TeamConfig{
			MaxRounds:      12,
			ContextBudget:  4000,
			TruncateAfter:  10,
			RoundRobin:     true,
			DynamicRouting: true,
			MaxToolRounds:  5,
		},
		Tools: ToolsConfig{
			Enabled:     true,
			SearchRate:  1,
			SearchBurst: 3,
		},
		Server: ServerConfig{
			Addr:            ":8000",
			AllowedOrigins:  []string{"*"},
			SubmitPerMinute: 10,
			ShutdownTimeout: 30 * time.Second,
		},
		Queue: QueueConfig{
			Workers:    2,
			Backlog:    100,
			JobTimeout: 10 * time.Minute,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
		},
		Redis: RedisConfig{
			Enabled: true,
			URL:     "redis://localhost:6379/0",
			TTL:     time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "logs",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Dir:     "metrics",
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Model.Provider) {
	case "ollama", "openai", "anthropic", "bedrock":
	default:
		return fmt.Errorf("model.provider: unsupported provider %q", c.Model.Provider)
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model.temperature: must be within [0, 2], got %v", c.Model.Temperature)
	}
	if c.Team.MaxRounds < 1 {
		return fmt.Errorf("team.max_rounds: must be at least 1, got %d", c.Team.MaxRounds)
	}
	if c.Team.ContextBudget < 1 {
		return fmt.Errorf("team.context_budget: must be positive, got %d", c.Team.ContextBudget)
	}
	if c.Team.Timeout < 0 || c.Queue.JobTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	for _, p := range c.Server.TrustedProxies {
		if _, err := ParseProxy(p); err != nil {
			return fmt.Errorf("server.trusted_proxies: %w", err)
		}
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers: must be at least 1, got %d", c.Queue.Workers)
	}
	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	return nil
}

// ParseProxy parses a trusted proxy entry: a CIDR range or a single address.
func ParseProxy(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid proxy range %q", s)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid proxy address %q", s)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
