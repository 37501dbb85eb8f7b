// Package config handles configuration management using Viper
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Code generation defaults
	Generate GenerateConfig `mapstructure:"generate"`

	// Compositor socket used by the globals command
	Socket SocketConfig `mapstructure:"socket"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// GenerateConfig contains defaults for the generate command
type GenerateConfig struct {
	Package       string   `mapstructure:"package"`
	OutputDir     string   `mapstructure:"output_dir"`
	Mode          string   `mapstructure:"mode"`      // client, server or both
	Protocols     []string `mapstructure:"protocols"` // XML files used when none are given
	RuntimeImport string   `mapstructure:"runtime_import"`
}

// SocketConfig names the compositor socket
type SocketConfig struct {
	Display    string `mapstructure:"display"`     // Overrides WAYLAND_DISPLAY
	RuntimeDir string `mapstructure:"runtime_dir"` // Overrides XDG_RUNTIME_DIR
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	LogLevel string `mapstructure:"log_level"` // Override LOG_LEVEL env var
	Trace    bool   `mapstructure:"trace"`     // Log every wire message
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Generate: GenerateConfig{
			Package:       "protocol",
			OutputDir:     ".",
			Mode:          "both",
			Protocols:     []string{},
			RuntimeImport: "github.com/bnema/wlproto",
		},
		Socket: SocketConfig{
			Display:    "", // Empty means use WAYLAND_DISPLAY
			RuntimeDir: "", // Empty means use XDG_RUNTIME_DIR
		},
		Logging: LoggingConfig{
			LogLevel: "", // Empty means use LOG_LEVEL env var
			Trace:    false,
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
	// Set config name and type
	viper.SetConfigName("wlproto")
	viper.SetConfigType("toml")

	// If a specific path is set, use only that
	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		// Add config paths in order of precedence
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			viper.AddConfigPath(filepath.Join(xdg, "wlproto"))
		}
		if home := os.Getenv("HOME"); home != "" {
			viper.AddConfigPath(filepath.Join(home, ".config", "wlproto"))
		}
		viper.AddConfigPath(".") // Current directory (lowest priority)
	}

	// Set defaults - need to set individual fields for proper merging
	viper.SetDefault("generate.package", DefaultConfig.Generate.Package)
	viper.SetDefault("generate.output_dir", DefaultConfig.Generate.OutputDir)
	viper.SetDefault("generate.mode", DefaultConfig.Generate.Mode)
	viper.SetDefault("generate.protocols", DefaultConfig.Generate.Protocols)
	viper.SetDefault("generate.runtime_import", DefaultConfig.Generate.RuntimeImport)

	viper.SetDefault("socket.display", DefaultConfig.Socket.Display)
	viper.SetDefault("socket.runtime_dir", DefaultConfig.Socket.RuntimeDir)

	viper.SetDefault("logging.log_level", DefaultConfig.Logging.LogLevel)
	viper.SetDefault("logging.trace", DefaultConfig.Logging.Trace)

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults
	}

	// Unmarshal config
	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}

	return nil
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		// Return defaults if not initialized
		return &DefaultConfig
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	cfg = c
}

// Save writes the current settings to the config file
func Save() error {
	configPath := GetConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	// If override is set, use that
	if configPathOverride != "" {
		return configPathOverride
	}

	// Check if config file is already loaded
	if viper.ConfigFileUsed() != "" {
		return viper.ConfigFileUsed()
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "wlproto", "wlproto.toml")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "wlproto.toml"
	}

	return filepath.Join(home, ".config", "wlproto", "wlproto.toml")
}
