// Package config loads programsync configuration from file, environment
// and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds daemon configuration.
type Config struct {
	// ListenAddr is the HTTP API bind address.
	ListenAddr string `mapstructure:"listen"`
	// DBPath is the SQLite database file path.
	DBPath string `mapstructure:"db_path"`
	// SchedulerSecret authorizes the /sync endpoints. Empty disables
	// auth; only sensible locally.
	SchedulerSecret string `mapstructure:"scheduler_secret"`
	// SyncInterval is how often the daemon runs reconciliation.
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	// HorizonDays bounds how far ahead template edits re-sync tasks.
	HorizonDays int `mapstructure:"horizon_days"`
	// BatchSize is how many enrollments reconcile concurrently.
	BatchSize int `mapstructure:"batch_size"`
	// BatchPause is the delay between reconciliation batches.
	BatchPause time.Duration `mapstructure:"batch_pause"`
}

func setDefaults(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()
	v.SetDefault("listen", "127.0.0.1:7478")
	v.SetDefault("db_path", filepath.Join(homeDir, ".programsync", "programsync.db"))
	v.SetDefault("scheduler_secret", "")
	v.SetDefault("sync_interval", 6*time.Hour)
	v.SetDefault("horizon_days", 7)
	v.SetDefault("batch_size", 50)
	v.SetDefault("batch_pause", 100*time.Millisecond)
}

// Load reads configuration from the given file (optional), the
// PROGRAMSYNC_* environment and built-in defaults, in that order of
// precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("programsync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("programsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".programsync"))
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
