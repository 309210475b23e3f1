// Package config loads xrbrokerd's configuration the way dittofs's
// pkg/config does: Viper reads layered sources (defaults, file, env), the
// result is decoded into a typed struct via mapstructure, and
// go-playground/validator enforces the invariants a config file alone
// can't express.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the broker daemon's full runtime configuration.
type Config struct {
	// SocketPath is the Unix domain socket the mainloop listens on (spec
	// §4.G); ignored when socket activation supplies the listening fd.
	SocketPath string `mapstructure:"socket_path" validate:"required" yaml:"socket_path"`

	// MaxClients is validated and reported by check-config. The mainloop's
	// live-connection slot array is sized by mainloop.MaxClients and does
	// not read this value.
	MaxClients int `mapstructure:"max_clients" validate:"required,gt=0,lte=4096" yaml:"max_clients"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error" yaml:"log_level"`

	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	AdminAPI AdminAPIConfig `mapstructure:"admin_api" yaml:"admin_api"`
}

// MetricsConfig controls the Prometheus HTTP exporter.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true" yaml:"addr"`
}

// AdminAPIConfig controls the gRPC admin side-channel.
type AdminAPIConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true" yaml:"addr"`
}

// Defaults returns a Config with every field set to its default value,
// applied before any file or environment override (spec ambient stack:
// "configuration ... with sane defaults").
func Defaults() Config {
	return Config{
		SocketPath: "/run/xrbrokerd/broker.sock",
		MaxClients: 256,
		LogLevel:   "info",
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9090",
		},
		AdminAPI: AdminAPIConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9191",
		},
	}
}

// Load reads configuration from an optional file at path, environment
// variables prefixed XRBROKERD_, and Defaults(), in that order of
// precedence (file overrides defaults, env overrides both), then validates
// the result.
func Load(path string) (Config, error) {
	v := viper.New()

	defaults := Defaults()
	v.SetDefault("socket_path", defaults.SocketPath)
	v.SetDefault("max_clients", defaults.MaxClients)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	v.SetDefault("metrics.addr", defaults.Metrics.Addr)
	v.SetDefault("admin_api.enabled", defaults.AdminAPI.Enabled)
	v.SetDefault("admin_api.addr", defaults.AdminAPI.Addr)

	v.SetEnvPrefix("XRBROKERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// Save writes cfg to path in YAML format, creating the parent directory if
// needed (used by `xrbrokerd init` to scaffold a starting config file).
func Save(cfg Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create directory %s: %w", dir, err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
