package config

import (
	"time"

	"github.com/spf13/viper"
)

// WorkerConfig contains all configuration for the worker service.
type WorkerConfig struct {
	Server      ServerConfig  `mapstructure:"server"`
	Slots       int           `mapstructure:"slots"`
	Auth        AuthConfig    `mapstructure:"auth"`
	Coordinator ConnConfig    `mapstructure:"coordinator"`
	Metadata    ConnConfig    `mapstructure:"metadata"`
	Output      ClientConfig  `mapstructure:"output"`
	Logging     LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains worker server configuration.
type ServerConfig struct {
	Addr             string        `mapstructure:"addr"`
	AdvertiseAddr    string        `mapstructure:"advertise_addr"`
	KeepaliveMinTime time.Duration `mapstructure:"keepalive_min_time"`
}

// GRPC returns the task endpoint server settings.
func (s ServerConfig) GRPC() GRPCConfig {
	return GRPCConfig{Addr: s.Addr, KeepaliveMinTime: s.KeepaliveMinTime}
}

// LoadWorker loads the worker configuration from the given path.
// If configPath is empty, it looks for worker.yaml in the config/ directory.
// Environment variables with MRFS_WORKER_ prefix override config file values.
func LoadWorker(configPath string) (*WorkerConfig, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":50051")
	v.SetDefault("server.advertise_addr", "localhost:50051")
	v.SetDefault("server.keepalive_min_time", 10*time.Second)
	v.SetDefault("slots", 2)
	v.SetDefault("auth.allowed_identities", []string{})
	v.SetDefault("output.block_size", 64*1024*1024)
	v.SetDefault("output.replication", 3)
	v.SetDefault("output.retry.initial_interval", 100*time.Millisecond)
	v.SetDefault("output.retry.max_retries", 5)
	setConnDefaults(v, "coordinator", "localhost:9090")
	setConnDefaults(v, "metadata", "localhost:9000")
	setLoggingDefaults(v)

	var cfg WorkerConfig
	if err := load(v, configPath, "worker", "MRFS_WORKER", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
