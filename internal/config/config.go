// Package config loads pg-cdc's runtime configuration from environment
// variables (and an optional config file), layering viper defaults under
// environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every recognized configuration option.
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`

	SlotName        string `mapstructure:"slot_name"`
	PublicationName string `mapstructure:"publication_name"`

	WorkerCount    int `mapstructure:"worker_count"`
	QueueCapacity  int `mapstructure:"queue_capacity"`
	HealthPort     int `mapstructure:"health_port"`

	KeepaliveIntervalS int `mapstructure:"keepalive_interval_s"`
}

// KeepaliveInterval returns KeepaliveIntervalS as a time.Duration.
func (c Config) KeepaliveInterval() time.Duration {
	return time.Duration(c.KeepaliveIntervalS) * time.Second
}

// Validate rejects configurations missing mandatory authentication fields.
func (c Config) Validate() error {
	var missing []string
	if c.User == "" {
		missing = append(missing, "user")
	}
	if c.Database == "" {
		missing = append(missing, "database")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Load reads configuration from environment variables prefixed PGCDC_ (e.g.
// PGCDC_HOST, PGCDC_WORKER_COUNT), falling back to an optional file at
// configPath, falling back to the built-in defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetEnvPrefix("PGCDC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	// viper's AutomaticEnv does not see keys that were never Set/bound; bind
	// each recognized key explicitly so PGCDC_* overrides always take effect.
	for _, key := range recognizedKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind env %q: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var recognizedKeys = []string{
	"host", "port", "user", "password", "database",
	"slot_name", "publication_name",
	"worker_count", "queue_capacity", "health_port",
	"keepalive_interval_s",
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("host", "localhost")
	v.SetDefault("port", 5433)
	v.SetDefault("slot_name", "python_cdc_slot")
	v.SetDefault("publication_name", "cdc_publication")
	v.SetDefault("worker_count", 3)
	v.SetDefault("queue_capacity", 1000)
	v.SetDefault("health_port", 8080)
	v.SetDefault("keepalive_interval_s", 10)
}
