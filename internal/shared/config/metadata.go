package config

import (
	"time"

	"github.com/spf13/viper"
)

// MetadataConfig contains all configuration for the metadata coordinator.
type MetadataConfig struct {
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Namespace NamespaceConfig `mapstructure:"namespace"`
	Repair    RepairConfig    `mapstructure:"repair"`
	Storage   ConnConfig      `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// NamespaceConfig contains file defaults and snapshot persistence settings.
type NamespaceConfig struct {
	DefaultReplication int    `mapstructure:"default_replication"`
	DefaultBlockSize   int64  `mapstructure:"default_block_size"`
	SnapshotPath       string `mapstructure:"snapshot_path"`
}

// RepairConfig controls the background re-replication loop.
type RepairConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	NodeStaleTimeout time.Duration `mapstructure:"node_stale_timeout"`
}

// LoadMetadata loads the metadata coordinator configuration from the given path.
// If configPath is empty, it looks for metaserver.yaml in the config/ directory.
// Environment variables with MRFS_META_ prefix override config file values.
func LoadMetadata(configPath string) (*MetadataConfig, error) {
	v := viper.New()

	v.SetDefault("grpc.addr", ":9000")
	v.SetDefault("grpc.keepalive_min_time", 10*time.Second)
	v.SetDefault("grpc.heartbeat_interval", 3*time.Second)
	v.SetDefault("auth.allowed_identities", []string{})
	v.SetDefault("namespace.default_replication", 3)
	v.SetDefault("namespace.default_block_size", 64*1024*1024)
	v.SetDefault("namespace.snapshot_path", "data/meta/namespace.json")
	v.SetDefault("repair.interval", 10*time.Second)
	v.SetDefault("repair.node_stale_timeout", 30*time.Second)
	setConnDefaults(v, "storage", "")
	setLoggingDefaults(v)

	var cfg MetadataConfig
	if err := load(v, configPath, "metaserver", "MRFS_META", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
