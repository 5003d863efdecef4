// Package config loads the process's configuration from a YAML file
// via viper, mapping it onto typed settings for each component the
// bootstrap wires together.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// NATS holds JetStream connection settings.
type NATS struct {
	URL            string        `mapstructure:"url"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Store holds the SQLite database path.
type Store struct {
	Path string `mapstructure:"path"`
}

// Scheduler holds the scheduler's own tunables, mirroring
// scheduler.Config.
type Scheduler struct {
	StatusQueueName string        `mapstructure:"status_queue_name"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	PurgeInterval   time.Duration `mapstructure:"purge_interval"`
	PurgeMinAge     time.Duration `mapstructure:"purge_min_age"`
	ShutdownGrace   time.Duration `mapstructure:"shutdown_grace"`
}

// Alert holds the alert manager's backlog rule tunables.
type Alert struct {
	BacklogThreshold int           `mapstructure:"backlog_threshold"`
	EvalInterval     time.Duration `mapstructure:"eval_interval"`
}

// Metrics holds the periodic snapshot publisher's tunables.
type Metrics struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Config is the process's full configuration tree.
type Config struct {
	NATS      NATS      `mapstructure:"nats"`
	Store     Store     `mapstructure:"store"`
	Scheduler Scheduler `mapstructure:"scheduler"`
	Alert     Alert     `mapstructure:"alert"`
	Metrics   Metrics   `mapstructure:"metrics"`
}

// Default returns a Config populated with the documented tunable
// defaults, used when no config file overrides them.
func Default() Config {
	return Config{
		NATS: NATS{
			URL:            "nats://127.0.0.1:4222",
			MaxReconnects:  10,
			ReconnectWait:  time.Second,
			ConnectTimeout: 5 * time.Second,
		},
		Store: Store{Path: "kronos.db"},
		Scheduler: Scheduler{
			StatusQueueName: "status",
			PollInterval:    time.Second,
			PurgeInterval:   time.Hour,
			PurgeMinAge:     time.Hour,
			ShutdownGrace:   10 * time.Second,
		},
		Alert: Alert{
			BacklogThreshold: 1000,
			EvalInterval:     30 * time.Second,
		},
		Metrics: Metrics{Interval: 15 * time.Second},
	}
}

// Load reads configPath (a YAML file) and merges it over Default.
// A missing config file is tolerated; a malformed one is not.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		// SetConfigFile (rather than SetConfigName+AddConfigPath) means
		// a missing file surfaces as the underlying *os.PathError from
		// afero, not a viper.ConfigFileNotFoundError — check for both so
		// the documented "missing file falls back to defaults" behavior
		// is actually reachable.
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
