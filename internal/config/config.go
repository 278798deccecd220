// Package config loads litemacro runtime configuration through viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ourisland/litemacro/internal/logging"
	"github.com/spf13/viper"
)

// DefaultMacrosFile is the macro definition file name inside the data dir.
const DefaultMacrosFile = "command.yml"

// EnvPrefix is the prefix for environment overrides (LITEMACRO_DAEMON_PORT, ...).
const EnvPrefix = "LITEMACRO"

// Config is the full runtime configuration.
type Config struct {
	DataDir    string `mapstructure:"data_dir"`
	MacrosFile string `mapstructure:"macros_file"`

	// Lang selects the message bundle when the macro file does not set one.
	Lang string `mapstructure:"lang"`

	Logging   logging.Config  `mapstructure:"logging"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Watch     WatchConfig     `mapstructure:"watch"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Move      MoveConfig      `mapstructure:"move"`
	History   HistoryConfig   `mapstructure:"history"`

	// DefaultBackend is where sessions start. Defaults to the first
	// backend by name.
	DefaultBackend string `mapstructure:"default_backend"`

	// Backends are the named destinations a session can be transferred to.
	Backends map[string]BackendConfig `mapstructure:"backends"`

	// Permissions grants permission nodes to session names. The console
	// always holds every permission.
	Permissions map[string][]string `mapstructure:"permissions"`
}

// DaemonConfig configures the gRPC listener.
type DaemonConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// HTTPConfig configures the admin HTTP listener. Empty Addr disables it.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig configures the sqlite event store. Empty Path disables it.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig configures the cluster reload bus.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// WatchConfig configures automatic reload on macro file changes.
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// RateLimitConfig configures the daemon's global RPC limit.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// MoveConfig bounds backend transfers.
type MoveConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// HistoryConfig bounds the event log and invocation history. Zero
// Retention keeps everything.
type HistoryConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

// BackendConfig describes a transfer destination.
type BackendConfig struct {
	Address string `mapstructure:"address"`
}

// BackendAddresses flattens Backends to name -> address.
func (c *Config) BackendAddresses() map[string]string {
	out := make(map[string]string, len(c.Backends))
	for name, b := range c.Backends {
		out[name] = b.Address
	}
	return out
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		DataDir:    dataDir,
		MacrosFile: filepath.Join(dataDir, DefaultMacrosFile),
		Lang:       "en_US",
		Logging: logging.Config{
			Level:  "info",
			Format: "console",
		},
		Daemon: DaemonConfig{
			Host: "127.0.0.1",
			Port: 50071,
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:50072",
		},
		Database: DatabaseConfig{
			Path: filepath.Join(dataDir, "litemacro.db"),
		},
		Redis: RedisConfig{
			Addr:    "127.0.0.1:6379",
			Channel: "litemacro:reload",
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 250 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 200,
			Burst:             400,
		},
		Move: MoveConfig{
			Timeout: 3 * time.Second,
		},
		History: HistoryConfig{
			Retention:     30 * 24 * time.Hour,
			PruneInterval: time.Hour,
		},
		Backends:    map[string]BackendConfig{},
		Permissions: map[string][]string{},
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".local", "share", "litemacro")
	}
	return "litemacro"
}

// Load reads configuration from path, or from the standard search
// locations when path is empty. A missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("litemacro")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			v.AddConfigPath(filepath.Join(home, ".config", "litemacro"))
		}
		v.AddConfigPath(filepath.Join(string(filepath.Separator), "etc", "litemacro"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// A data_dir override moves the derived paths along with it unless
	// they were set explicitly.
	if !v.IsSet("macros_file") {
		cfg.MacrosFile = filepath.Join(cfg.DataDir, DefaultMacrosFile)
	}
	if !v.IsSet("database.path") {
		cfg.Database.Path = filepath.Join(cfg.DataDir, "litemacro.db")
	}
	if cfg.Backends == nil {
		cfg.Backends = map[string]BackendConfig{}
	}
	if cfg.Permissions == nil {
		cfg.Permissions = map[string][]string{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("lang", cfg.Lang)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("daemon.host", cfg.Daemon.Host)
	v.SetDefault("daemon.port", cfg.Daemon.Port)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("redis.enabled", cfg.Redis.Enabled)
	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("redis.channel", cfg.Redis.Channel)
	v.SetDefault("watch.enabled", cfg.Watch.Enabled)
	v.SetDefault("watch.debounce", cfg.Watch.Debounce)
	v.SetDefault("rate_limit.enabled", cfg.RateLimit.Enabled)
	v.SetDefault("rate_limit.requests_per_second", cfg.RateLimit.RequestsPerSecond)
	v.SetDefault("rate_limit.burst", cfg.RateLimit.Burst)
	v.SetDefault("move.timeout", cfg.Move.Timeout)
	v.SetDefault("history.retention", cfg.History.Retention)
	v.SetDefault("history.prune_interval", cfg.History.PruneInterval)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.MacrosFile) == "" {
		return errors.New("macros_file is required")
	}
	if c.Daemon.Port < 0 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port %d out of range", c.Daemon.Port)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit requires positive requests_per_second and burst")
	}
	if c.Move.Timeout <= 0 {
		return fmt.Errorf("move.timeout must be positive")
	}
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if c.History.Retention < 0 {
		return fmt.Errorf("history.retention must not be negative")
	}
	if c.History.Retention > 0 && c.History.PruneInterval <= 0 {
		return fmt.Errorf("history.prune_interval must be positive when retention is set")
	}
	for name, backend := range c.Backends {
		if strings.TrimSpace(backend.Address) == "" {
			return fmt.Errorf("backend %q has no address", name)
		}
	}
	if c.DefaultBackend != "" && len(c.Backends) > 0 {
		if _, ok := c.Backends[strings.ToLower(c.DefaultBackend)]; !ok {
			return fmt.Errorf("default_backend %q is not a configured backend", c.DefaultBackend)
		}
	}
	return nil
}

// EnsureDataDir creates the data directory.
func (c *Config) EnsureDataDir() error {
	if c.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}
