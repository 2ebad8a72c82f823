// Package config loads fleetforged's daemon configuration from a config
// file, environment variables, and defaults, grounded on the
// viper.Unmarshal pattern used throughout the examples pack's CLI configs
// (the teacher itself reads flags directly; this is the ambient
// config-file/env layer SPEC_FULL.md's package layout calls for).
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is fleetforged's full daemon configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Channel   ChannelConfig   `mapstructure:"channel"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// LogConfig configures pkg/log.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// ServerConfig configures the gRPC channel hub listener and metrics HTTP
// endpoint.
type ServerConfig struct {
	ChannelAddr string `mapstructure:"channel_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// StorageConfig selects and configures the job/pool repository.
type StorageConfig struct {
	Driver  string `mapstructure:"driver"` // "memory" or "bbolt"
	DataDir string `mapstructure:"data_dir"`
}

// QueueConfig configures pkg/queue.
type QueueConfig struct {
	MaxSize      int  `mapstructure:"max_size"`
	FailOnExpiry bool `mapstructure:"fail_on_expiry"`
}

// ChannelConfig configures pkg/channelhub timeouts.
type ChannelConfig struct {
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
	CacheResponseWindow time.Duration `mapstructure:"cache_response_window"`
	ControlAckTimeout   time.Duration `mapstructure:"control_ack_timeout"`
}

// SchedulerConfig configures pkg/coordinator's loop cadences.
type SchedulerConfig struct {
	QueueInterval          time.Duration `mapstructure:"queue_interval"`
	ScalingInterval        time.Duration `mapstructure:"scaling_interval"`
	MetricsInterval        time.Duration `mapstructure:"metrics_interval"`
	ProviderHealthInterval time.Duration `mapstructure:"provider_health_interval"`
	ShutdownGrace          time.Duration `mapstructure:"shutdown_grace"`
}

// ProviderConfig selects and configures the compute provider backend.
type ProviderConfig struct {
	Name             string `mapstructure:"name"` // "containerd" or "cluster"
	ContainerdSocket string `mapstructure:"containerd_socket"`
}

// SecurityConfig configures pkg/security's certificate authority and the
// pre-shared token the Enrollment RPC accepts.
type SecurityConfig struct {
	JoinToken string `mapstructure:"join_token"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("server.channel_addr", "0.0.0.0:7070")
	v.SetDefault("server.metrics_addr", "127.0.0.1:9090")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("queue.max_size", 10000)
	v.SetDefault("queue.fail_on_expiry", false)
	v.SetDefault("channel.heartbeat_interval", 10*time.Second)
	v.SetDefault("channel.cache_response_window", 5*time.Second)
	v.SetDefault("channel.control_ack_timeout", 15*time.Second)
	v.SetDefault("scheduler.queue_interval", 1*time.Second)
	v.SetDefault("scheduler.scaling_interval", 30*time.Second)
	v.SetDefault("scheduler.metrics_interval", 60*time.Second)
	v.SetDefault("scheduler.provider_health_interval", 30*time.Second)
	v.SetDefault("scheduler.shutdown_grace", 30*time.Second)
	v.SetDefault("provider.name", "containerd")
}

// Load reads configuration from (in ascending precedence) defaults, a
// config file named fleetforged.{yaml,json,toml} on the given search paths,
// and FLEETFORGE_-prefixed environment variables.
func Load(configPaths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("fleetforged")
	v.SetConfigType("yaml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/fleetforge")

	v.SetEnvPrefix("FLEETFORGE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
