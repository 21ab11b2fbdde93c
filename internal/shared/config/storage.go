package config

import (
	"time"

	"github.com/spf13/viper"
)

// StorageConfig contains all configuration for a storage node.
type StorageConfig struct {
	NodeID        string        `mapstructure:"node_id"`
	DataDir       string        `mapstructure:"data_dir"`
	AdvertiseAddr string        `mapstructure:"advertise_addr"`
	GRPC          GRPCConfig    `mapstructure:"grpc"`
	Auth          AuthConfig    `mapstructure:"auth"`
	Metadata      ConnConfig    `mapstructure:"metadata"`
	Peers         ConnConfig    `mapstructure:"peers"`
	Forward       ForwardConfig `mapstructure:"forward"`
	Logging       LoggingConfig `mapstructure:"logging"`
}

// ForwardConfig controls retries when pushing a replica down the chain.
type ForwardConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

// LoadStorage loads the storage node configuration from the given path.
// If configPath is empty, it looks for blockserver.yaml in the config/ directory.
// Environment variables with MRFS_STORAGE_ prefix override config file values.
func LoadStorage(configPath string) (*StorageConfig, error) {
	v := viper.New()

	v.SetDefault("node_id", "node-1")
	v.SetDefault("data_dir", "data/blocks")
	v.SetDefault("advertise_addr", "localhost:9100")
	v.SetDefault("grpc.addr", ":9100")
	v.SetDefault("grpc.keepalive_min_time", 10*time.Second)
	v.SetDefault("grpc.heartbeat_interval", 3*time.Second)
	v.SetDefault("auth.allowed_identities", []string{})
	v.SetDefault("forward.initial_interval", 200*time.Millisecond)
	v.SetDefault("forward.max_elapsed_time", 30*time.Second)
	setConnDefaults(v, "metadata", "localhost:9000")
	setConnDefaults(v, "peers", "")
	setLoggingDefaults(v)

	var cfg StorageConfig
	if err := load(v, configPath, "blockserver", "MRFS_STORAGE", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
