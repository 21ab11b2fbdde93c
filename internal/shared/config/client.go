package config

import (
	"time"

	"github.com/spf13/viper"
)

// ClientConfig contains settings for file-system clients.
type ClientConfig struct {
	Metadata    ConnConfig    `mapstructure:"metadata"`
	BlockSize   int64         `mapstructure:"block_size"`
	Replication int           `mapstructure:"replication"`
	Retry       RetryConfig   `mapstructure:"retry"`
	Logging     LoggingConfig `mapstructure:"logging"`
}

// RetryConfig bounds retries of metadata calls that failed with
// UNREACHABLE or TIMEOUT.
type RetryConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxRetries      uint64        `mapstructure:"max_retries"`
}

// LoadClient loads client configuration from the given path.
// If configPath is empty, it looks for mrfs.yaml in the config/ directory.
// Environment variables with MRFS_CLIENT_ prefix override config file values.
func LoadClient(configPath string) (*ClientConfig, error) {
	v := viper.New()

	v.SetDefault("block_size", 64*1024*1024)
	v.SetDefault("replication", 3)
	v.SetDefault("retry.initial_interval", 100*time.Millisecond)
	v.SetDefault("retry.max_retries", 5)
	setConnDefaults(v, "metadata", "localhost:9000")
	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "text")

	var cfg ClientConfig
	if err := load(v, configPath, "mrfs", "MRFS_CLIENT", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
