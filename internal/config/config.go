// Package config handles configuration management using Viper
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Device configuration
	Device DeviceConfig `mapstructure:"device"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// DeviceConfig contains DRM device settings
type DeviceConfig struct {
	// Card is the DRM node to drive
	Card string `mapstructure:"card"`
	// RestoreOnExit replays the wiring snapshot on teardown
	RestoreOnExit bool `mapstructure:"restore_on_exit"`
	// PreferredConnector picks the connector for the test command,
	// empty means first connected
	PreferredConnector string `mapstructure:"preferred_connector"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	LogLevel string `mapstructure:"log_level"` // Override LOG_LEVEL env var
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Device: DeviceConfig{
			Card:          "/dev/dri/card0",
			RestoreOnExit: true,
		},
		Logging: LoggingConfig{
			LogLevel: "", // Empty means use LOG_LEVEL env var
		},
	}

	// Global config instance
	cfg *Config

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	viper.SetConfigName("modeset")
	viper.SetConfigType("toml")

	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		viper.AddConfigPath("/etc/modeset")
		if home := os.Getenv("HOME"); home != "" {
			viper.AddConfigPath(filepath.Join(home, ".config", "modeset"))
		}
		viper.AddConfigPath(".")
	}

	viper.SetDefault("device.card", DefaultConfig.Device.Card)
	viper.SetDefault("device.restore_on_exit", DefaultConfig.Device.RestoreOnExit)
	viper.SetDefault("device.preferred_connector", DefaultConfig.Device.PreferredConnector)
	viper.SetDefault("logging.log_level", DefaultConfig.Logging.LogLevel)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}

	return nil
}

// Get returns the current configuration, initializing it on first use
func Get() *Config {
	if cfg == nil {
		if err := Init(); err != nil {
			c := DefaultConfig
			return &c
		}
	}
	return cfg
}
