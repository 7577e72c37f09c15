package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds the application's configuration settings.
type Config struct {
	Environment string      `mapstructure:"environment"`
	CoreVersion string      `mapstructure:"core_version"` // Version modules are checked against.
	Trust       TrustConfig `mapstructure:"trust"`
	Governance  Governance  `mapstructure:"governance"`
	Storage     Storage     `mapstructure:"storage"`
	Timeouts    Timeouts    `mapstructure:"timeouts"`
}

// TrustConfig controls module package verification.
type TrustConfig struct {
	// PublicKeyPath points at a PEM-encoded RSA public key. When empty,
	// signature verification is skipped and only checksums are enforced.
	PublicKeyPath string `mapstructure:"public_key_path"`
	AllowUnsigned bool   `mapstructure:"allow_unsigned"`
}

// Governance holds the admission-control defaults.
type Governance struct {
	RateLimit RateLimit `mapstructure:"rate_limit"`
	Budget    Budget    `mapstructure:"budget"`
}

// RateLimit holds the default per-agent limits.
type RateLimit struct {
	PerMinute     int `mapstructure:"per_minute"`
	PerHour       int `mapstructure:"per_hour"`
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// Budget holds the default token budget settings.
type Budget struct {
	// DefaultLimit is the token budget handed to executions whose agent does
	// not declare one. Zero means unbounded.
	DefaultLimit int64 `mapstructure:"default_limit"`
}

// Storage selects the snapshot store backend.
type Storage struct {
	Driver string `mapstructure:"driver"` // "memory" or "sqlite"
	Path   string `mapstructure:"path"`   // sqlite database file
}

// Timeouts holds timeout settings for various operations, in seconds.
type Timeouts struct {
	ModuleOperation int `mapstructure:"module_operation_seconds"`
	ConfigChange    int `mapstructure:"config_change_seconds"`
}

// configChangeHooks stores functions to be called when the config changes.
var configChangeHooks []func(*Config)

// AddConfigChangeHook registers a function to be called when the configuration changes.
func (c *Config) AddConfigChangeHook(hook func(*Config)) {
	configChangeHooks = append(configChangeHooks, hook)
}

// Load reads the application configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/agentd")

	v.AutomaticEnv()
	v.SetEnvPrefix("AGENTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("environment", "development")
	v.SetDefault("core_version", "1.0.0")
	// development default; production deployments configure a public key
	// and set this to false
	v.SetDefault("trust.allow_unsigned", true)
	v.SetDefault("governance.rate_limit.per_minute", 60)
	v.SetDefault("governance.rate_limit.per_hour", 1000)
	v.SetDefault("governance.rate_limit.max_concurrent", 5)
	v.SetDefault("governance.budget.default_limit", 0)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.path", "./data/agentd.db")
	v.SetDefault("timeouts.module_operation_seconds", 10)
	v.SetDefault("timeouts.config_change_seconds", 5)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Fprintln(os.Stderr, "Config file not found, using defaults and environment variables.")
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := v.Unmarshal(&cfg); err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("failed to re-unmarshal config: %w", err))
			return
		}
		for _, hook := range configChangeHooks {
			hook(&cfg)
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if _, err := semver.NewVersion(c.CoreVersion); err != nil {
		return fmt.Errorf("core_version %q is not valid semver: %w", c.CoreVersion, err)
	}
	if c.Governance.RateLimit.PerMinute < 0 ||
		c.Governance.RateLimit.PerHour < 0 ||
		c.Governance.RateLimit.MaxConcurrent < 0 {
		return fmt.Errorf("governance rate limits must not be negative")
	}
	if c.Governance.Budget.DefaultLimit < 0 {
		return fmt.Errorf("governance budget default_limit must not be negative")
	}
	switch c.Storage.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}
