package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Plugin    PluginConfig    `mapstructure:"plugin"`
	API       APIConfig       `mapstructure:"api"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Session   SessionConfig   `mapstructure:"session"`
}

type PluginConfig struct {
	URL               string        `mapstructure:"url"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
}

type APIConfig struct {
	// HTTPPort 0 disables the status API.
	HTTPPort int `mapstructure:"http_port"`
}

type DiscoveryConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type SessionConfig struct {
	KeepaliveInterval  time.Duration `mapstructure:"keepalive_interval"`
	KeepaliveFailLimit int           `mapstructure:"keepalive_fail_limit"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	DefaultBrightness  int           `mapstructure:"default_brightness"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	// Defaults setzen
	viper.SetDefault("plugin.url", "ws://127.0.0.1:9012")
	viper.SetDefault("plugin.reconnect_interval", "3s")
	viper.SetDefault("api.http_port", 0)
	viper.SetDefault("discovery.poll_interval", "2s")
	viper.SetDefault("session.keepalive_interval", "10s")
	viper.SetDefault("session.keepalive_fail_limit", 2)
	viper.SetDefault("session.read_timeout", "500ms")
	viper.SetDefault("session.default_brightness", 50)
	viper.SetDefault("session.shutdown_timeout", "10s")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("DECKD")

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine, defaults cover everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}
