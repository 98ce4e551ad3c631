package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ServerConfig holds the endpoints of the platform backend.
type ServerConfig struct {
	// BaseURL is the root URL of the REST API.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// WSURL is the websocket endpoint for push delivery.
	WSURL string `mapstructure:"ws_url" yaml:"ws_url"`
}

// FeedConfig holds the notification feed tuning knobs.
type FeedConfig struct {
	// Capacity is the most-recent-N window kept in memory.
	Capacity int `mapstructure:"capacity" yaml:"capacity"`

	// PersistSize is how many of the most recent items are written to
	// durable storage per user.
	PersistSize int `mapstructure:"persist_size" yaml:"persist_size"`

	// SnapshotLimit is the page size requested from the REST snapshot.
	SnapshotLimit int `mapstructure:"snapshot_limit" yaml:"snapshot_limit"`

	// PollIntervalSec is how often (in seconds) the REST snapshot is
	// refetched to reconcile against push delivery.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// CredentialConfig holds session credential handling settings.
type CredentialConfig struct {
	// ExpiryMarginSec is the safety margin: a credential expiring within
	// this many seconds is already treated as invalid.
	ExpiryMarginSec int `mapstructure:"expiry_margin_sec" yaml:"expiry_margin_sec"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Feed       FeedConfig       `mapstructure:"feed" yaml:"feed"`
	Credential CredentialConfig `mapstructure:"credential" yaml:"credential"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/edupulse/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "edupulse", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			BaseURL: "http://localhost:8080",
			WSURL:   "ws://localhost:8080/ws",
		},
		Feed: FeedConfig{
			Capacity:        100,
			PersistSize:     20,
			SnapshotLimit:   50,
			PollIntervalSec: 60,
		},
		Credential: CredentialConfig{
			ExpiryMarginSec: 3,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.ws_url", "ws://localhost:8080/ws")
	v.SetDefault("feed.capacity", 100)
	v.SetDefault("feed.persist_size", 20)
	v.SetDefault("feed.snapshot_limit", 50)
	v.SetDefault("feed.poll_interval_sec", 60)
	v.SetDefault("credential.expiry_margin_sec", 3)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Feed.Capacity <= 0 {
		cfg.Feed.Capacity = 100
	}
	if cfg.Feed.PersistSize <= 0 {
		cfg.Feed.PersistSize = 20
	}
	if cfg.Feed.PersistSize > cfg.Feed.Capacity {
		cfg.Feed.PersistSize = cfg.Feed.Capacity
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("server", cfg.Server)
	v.Set("feed", cfg.Feed)
	v.Set("credential", cfg.Credential)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
