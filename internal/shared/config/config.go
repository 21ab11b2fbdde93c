package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoggingConfig contains logging-related configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GRPCConfig contains gRPC server configuration.
type GRPCConfig struct {
	Addr              string        `mapstructure:"addr"`
	KeepaliveMinTime  time.Duration `mapstructure:"keepalive_min_time"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// ConnConfig describes an outgoing gRPC connection.
type ConnConfig struct {
	Addr             string        `mapstructure:"addr"`
	Timeout          time.Duration `mapstructure:"timeout"`
	KeepaliveTime    time.Duration `mapstructure:"keepalive_time"`
	KeepaliveTimeout time.Duration `mapstructure:"keepalive_timeout"`
	Identity         string        `mapstructure:"identity"`
}

// AuthConfig lists caller identities a server accepts. An empty list
// accepts every identity.
type AuthConfig struct {
	AllowedIdentities []string `mapstructure:"allowed_identities"`
}

func setLoggingDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func setConnDefaults(v *viper.Viper, prefix, addr string) {
	v.SetDefault(prefix+".addr", addr)
	v.SetDefault(prefix+".timeout", 10*time.Second)
	v.SetDefault(prefix+".keepalive_time", 30*time.Second)
	v.SetDefault(prefix+".keepalive_timeout", 5*time.Second)
	v.SetDefault(prefix+".identity", "mrfs")
}

// load reads configPath (or <name>.yaml from ./config or .), applies
// environment overrides with envPrefix and unmarshals into out.
func load(v *viper.Viper, configPath, name, envPrefix string, out any) error {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(name)
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	return nil
}
