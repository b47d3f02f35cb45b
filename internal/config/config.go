// Package config loads scheduler configuration from environment variables
// prefixed SCHED_, with defaults suitable for local development.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable the scheduler needs at startup.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	DBPath     string `mapstructure:"db_path"`

	MaxConcurrent int           `mapstructure:"max_concurrent"`
	PollTick      time.Duration `mapstructure:"poll_tick"`

	RateLimitCapacity     int64         `mapstructure:"rate_limit_capacity"`
	RateLimitFillRate     float64       `mapstructure:"rate_limit_fill_rate"`
	RateLimitWindow       time.Duration `mapstructure:"rate_limit_window"`
	RateLimitMaxPerWindow int64         `mapstructure:"rate_limit_max_per_window"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	JSONLog  bool   `mapstructure:"json_log"`
	LogLevel string `mapstructure:"log_level"`

	ServiceName string `mapstructure:"service_name"`
}

// Load reads configuration from SCHED_-prefixed environment variables,
// falling back to defaults for anything unset.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCHED")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("db_path", "scheduler.db")
	v.SetDefault("max_concurrent", 3)
	v.SetDefault("poll_tick", 2*time.Second)
	v.SetDefault("rate_limit_capacity", 50)
	v.SetDefault("rate_limit_fill_rate", 25.0)
	v.SetDefault("rate_limit_window", time.Second)
	v.SetDefault("rate_limit_max_per_window", 200)
	v.SetDefault("shutdown_timeout", 30*time.Second)
	v.SetDefault("json_log", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("service_name", "taskscheduler")

	for _, key := range []string{
		"listen_addr", "db_path", "max_concurrent", "poll_tick",
		"rate_limit_capacity", "rate_limit_fill_rate", "rate_limit_window",
		"rate_limit_max_per_window", "shutdown_timeout", "json_log",
		"log_level", "service_name",
	} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
