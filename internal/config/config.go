// Package config loads and validates the engine's runtime configuration,
// with a Load/Validate pair over the database, execution, registry,
// cron, and server option groups.
package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the full set of options the engine recognizes.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Cron      CronConfig      `mapstructure:"cron"`
	Server    ServerConfig    `mapstructure:"server"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	PoolSize int    `mapstructure:"pool_size"`
}

type ExecutionConfig struct {
	TaskTimeoutSecs    int    `mapstructure:"task_timeout_secs"`
	MaxConcurrentTasks int    `mapstructure:"max_concurrent_tasks"`
	PollingIntervalMS  int    `mapstructure:"polling_interval_ms"`
	WorkerThreads      string `mapstructure:"worker_threads"` // integer string, or "auto"
}

type RegistryConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	StorageType      string `mapstructure:"storage_type"` // "filesystem" or "database"
	StoragePath      string `mapstructure:"storage_path"`
	ConnectionString string `mapstructure:"storage_connection_string"`
}

type CronConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	CheckIntervalSecs int  `mapstructure:"check_interval_secs"`
}

type ServerConfig struct {
	LogLevel                    string `mapstructure:"log_level"`
	GracefulShutdownTimeoutSecs int    `mapstructure:"graceful_shutdown_timeout_secs"`
	PIDFile                     string `mapstructure:"pid_file"`
	UnixSocketPath              string `mapstructure:"unix_socket_path"`
	UnixSocketPermissions       int    `mapstructure:"unix_socket_permissions"`
	HTTPBindAddress             string `mapstructure:"http_bind_address"`
	HTTPPort                    int    `mapstructure:"http_port"`
}

// Default returns a Config populated with every documented default:
// pool_size=10, worker_threads=auto, polling_interval_ms=500,
// cron.check_interval_secs=30, server.graceful_shutdown_timeout_secs=30.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{PoolSize: 10},
		Execution: ExecutionConfig{
			TaskTimeoutSecs:    300,
			MaxConcurrentTasks: 10,
			PollingIntervalMS:  500,
			WorkerThreads:      "auto",
		},
		Registry: RegistryConfig{
			Enabled:     true,
			StorageType: "filesystem",
		},
		Cron: CronConfig{
			Enabled:           true,
			CheckIntervalSecs: 30,
		},
		Server: ServerConfig{
			LogLevel:                    "info",
			GracefulShutdownTimeoutSecs: 30,
			HTTPBindAddress:             "127.0.0.1",
			HTTPPort:                    7890,
		},
	}
}

// Load reads a YAML config file from path through viper, applying
// environment-variable substitution (ExpandEnv) to the raw text before
// viper parses it, unmarshals over Default(), then validates. v lets
// callers (cmd/cloacinad) share one viper instance bound to cobra flags and
// CLOACINA_* environment variables; a nil v uses a fresh instance.
func Load(path string, v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix("cloacina")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := Default()
	setDefaults(v, cfg)

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
		expanded, err := ExpandEnv(string(raw))
		if err != nil {
			return nil, errors.Wrap(err, "failed to expand environment variables in config file")
		}
		v.SetConfigType("yaml")
		if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %s", path)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("database.pool_size", cfg.Database.PoolSize)
	v.SetDefault("execution.task_timeout_secs", cfg.Execution.TaskTimeoutSecs)
	v.SetDefault("execution.max_concurrent_tasks", cfg.Execution.MaxConcurrentTasks)
	v.SetDefault("execution.polling_interval_ms", cfg.Execution.PollingIntervalMS)
	v.SetDefault("execution.worker_threads", cfg.Execution.WorkerThreads)
	v.SetDefault("registry.enabled", cfg.Registry.Enabled)
	v.SetDefault("registry.storage_type", cfg.Registry.StorageType)
	v.SetDefault("cron.enabled", cfg.Cron.Enabled)
	v.SetDefault("cron.check_interval_secs", cfg.Cron.CheckIntervalSecs)
	v.SetDefault("server.log_level", cfg.Server.LogLevel)
	v.SetDefault("server.graceful_shutdown_timeout_secs", cfg.Server.GracefulShutdownTimeoutSecs)
	v.SetDefault("server.http_bind_address", cfg.Server.HTTPBindAddress)
	v.SetDefault("server.http_port", cfg.Server.HTTPPort)
}

var substPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)((?::-)|(?::\?))?([^}]*)\}`)

// ExpandEnv implements three environment-substitution forms: `${VAR}`
// (required, error if unset), `${VAR:-default}` (optional, falls back to
// default if unset), and `${VAR:?msg}` (required, error with msg if unset).
func ExpandEnv(s string) (string, error) {
	var firstErr error
	result := substPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		groups := substPattern.FindStringSubmatch(match)
		name, op, rest := groups[1], groups[2], groups[3]
		val, ok := os.LookupEnv(name)
		switch op {
		case ":-":
			if ok && val != "" {
				return val
			}
			return rest
		case ":?":
			if ok && val != "" {
				return val
			}
			msg := strings.TrimSpace(rest)
			if msg == "" {
				msg = fmt.Sprintf("required environment variable %s is not set", name)
			}
			firstErr = errors.Errorf("%s", msg)
			return match
		default:
			if ok {
				return val
			}
			firstErr = errors.Errorf("required environment variable %s is not set", name)
			return match
		}
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Validate enforces every range and required-field constraint on Config.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Database.PoolSize < 1 || c.Database.PoolSize > 100 {
		return errors.Errorf("database.pool_size must be in 1..100, got %d", c.Database.PoolSize)
	}
	if c.Execution.TaskTimeoutSecs <= 0 {
		return errors.New("execution.task_timeout_secs must be > 0")
	}
	if c.Execution.MaxConcurrentTasks <= 0 {
		return errors.New("execution.max_concurrent_tasks must be > 0")
	}
	if c.Execution.PollingIntervalMS <= 0 {
		return errors.New("execution.polling_interval_ms must be > 0")
	}
	if wt := c.Execution.WorkerThreads; wt != "auto" && wt != "" {
		if n := parsePositiveInt(wt); n <= 0 {
			return errors.Errorf("execution.worker_threads must be a positive integer or \"auto\", got %q", wt)
		}
	}
	switch c.Registry.StorageType {
	case "filesystem":
		if c.Registry.StoragePath == "" {
			return errors.New("registry.storage.path is required when registry.storage.type is \"filesystem\"")
		}
	case "database":
		if c.Registry.ConnectionString == "" {
			return errors.New("registry.storage.connection_string is required when registry.storage.type is \"database\"")
		}
	default:
		return errors.Errorf("registry.storage.type must be \"filesystem\" or \"database\", got %q", c.Registry.StorageType)
	}
	if c.Cron.Enabled && c.Cron.CheckIntervalSecs <= 0 {
		return errors.New("cron.check_interval_secs must be > 0")
	}
	switch c.Server.LogLevel {
	case "error", "warn", "info", "debug", "trace":
	default:
		return errors.Errorf("server.log_level must be one of error,warn,info,debug,trace, got %q", c.Server.LogLevel)
	}
	if c.Server.GracefulShutdownTimeoutSecs <= 0 {
		return errors.New("server.graceful_shutdown_timeout_secs must be > 0")
	}
	if c.Server.UnixSocketPermissions < 0 || c.Server.UnixSocketPermissions > 0o777 {
		return errors.New("server.api.unix_socket.permissions must be <= 0o777")
	}
	if c.Server.HTTPBindAddress != "" && c.Server.HTTPPort <= 0 {
		return errors.New("server.api.http.port must be > 0")
	}
	return nil
}

func parsePositiveInt(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return -1
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// DatabaseBackend derives the store.Driver backend name ("postgres" or
// "sqlite") from the scheme of Database.URL.
func (c *Config) DatabaseBackend() string {
	if strings.HasPrefix(c.Database.URL, "postgres://") || strings.HasPrefix(c.Database.URL, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}
