package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/talentpipe/sentinel/entitysource"
)

// Config is the server configuration, loaded from sentinel.yaml and
// SENTINEL_* environment variables (env wins).
type Config struct {
	DatabaseURL     string        `mapstructure:"database_url"`
	Port            string        `mapstructure:"port"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`

	Scheduler struct {
		Enabled    bool          `mapstructure:"enabled"`
		Interval   time.Duration `mapstructure:"interval"`
		RunTimeout time.Duration `mapstructure:"run_timeout"`
	} `mapstructure:"scheduler"`

	// Entities declares the tracked entity types this deployment monitors
	Entities []entitysource.Descriptor `mapstructure:"entities"`
}

func loadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("sentinel")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sentinel")

	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "8080")
	v.SetDefault("delivery_timeout", 15*time.Second)
	v.SetDefault("cache_ttl", 0)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", time.Hour)
	v.SetDefault("scheduler.run_timeout", 30*time.Minute)

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; env and defaults can carry a deployment
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url is required (config file or SENTINEL_DATABASE_URL)")
	}

	for i := range cfg.Entities {
		if err := cfg.Entities[i].Validate(); err != nil {
			return nil, fmt.Errorf("entity descriptor %d: %w", i, err)
		}
	}

	return &cfg, nil
}
