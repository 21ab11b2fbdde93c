package config

import (
	"time"

	"github.com/spf13/viper"
)

// CoordinatorConfig contains all configuration for the job coordinator service.
type CoordinatorConfig struct {
	REST     RESTConfig    `mapstructure:"rest"`
	GRPC     GRPCConfig    `mapstructure:"grpc"`
	Auth     AuthConfig    `mapstructure:"auth"`
	Health   HealthConfig  `mapstructure:"health"`
	Jobs     JobsConfig    `mapstructure:"jobs"`
	Metadata ConnConfig    `mapstructure:"metadata"`
	// Workers configures connections to worker task endpoints; the address
	// comes from each worker registration.
	Workers  ConnConfig    `mapstructure:"workers"`
	Logging  LoggingConfig `mapstructure:"logging"`
}

// RESTConfig contains REST API server configuration.
type RESTConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// HealthConfig contains worker health checking configuration.
type HealthConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	StaleTimeout  time.Duration `mapstructure:"stale_timeout"`
}

// JobsConfig contains scheduling and retry settings.
type JobsConfig struct {
	MaxAttempts             int           `mapstructure:"max_attempts"`
	TaskTimeout             time.Duration `mapstructure:"task_timeout"`
	ScheduleInterval        time.Duration `mapstructure:"schedule_interval"`
	ScratchDir              string        `mapstructure:"scratch_dir"`
	IntermediateReplication int           `mapstructure:"intermediate_replication"`
	StatePath               string        `mapstructure:"state_path"`
}

// LoadCoordinator loads the coordinator configuration from the given path.
// If configPath is empty, it looks for coordinator.yaml in the config/ directory.
// Environment variables with MRFS_COORDINATOR_ prefix override config file values.
func LoadCoordinator(configPath string) (*CoordinatorConfig, error) {
	v := viper.New()

	v.SetDefault("rest.addr", ":8080")
	v.SetDefault("rest.read_timeout", 15*time.Second)
	v.SetDefault("rest.write_timeout", 15*time.Second)
	v.SetDefault("rest.idle_timeout", 60*time.Second)
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("grpc.keepalive_min_time", 30*time.Second)
	v.SetDefault("grpc.heartbeat_interval", 15*time.Second)
	v.SetDefault("auth.allowed_identities", []string{})
	v.SetDefault("health.check_interval", 5*time.Second)
	v.SetDefault("health.stale_timeout", 45*time.Second)
	v.SetDefault("jobs.max_attempts", 3)
	v.SetDefault("jobs.task_timeout", 10*time.Minute)
	v.SetDefault("jobs.schedule_interval", time.Second)
	v.SetDefault("jobs.scratch_dir", "/.mrfs/jobs")
	v.SetDefault("jobs.intermediate_replication", 1)
	v.SetDefault("jobs.state_path", "data/coordinator/jobs.json")
	setConnDefaults(v, "metadata", "localhost:9000")
	setConnDefaults(v, "workers", "")
	setLoggingDefaults(v)

	var cfg CoordinatorConfig
	if err := load(v, configPath, "coordinator", "MRFS_COORDINATOR", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
