// Package config loads and validates the coordination service configuration.
// Configuration comes from a YAML file with environment variable overrides
// (e.g. QUEUE_LEASE_TIMEOUT overrides queue.lease_timeout).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gridscrape/coordinator/internal/logger"
)

// Default tuning values. All of these are overridable per deployment; the
// defaults are sized for a typical country scraper run of a few thousand
// items across a handful of workers.
const (
	DefaultLeaseTimeout         = 10 * time.Minute
	DefaultMaxAttempts          = 5
	DefaultBatchSize            = 20
	DefaultHeartbeatMinInterval = 30 * time.Second
	DefaultPollInterval         = 5 * time.Second

	DefaultStuckThresholdPct = 99.5
	DefaultStuckTimeout      = 10 * time.Minute
	DefaultSweepInterval     = time.Minute

	DefaultBackoffBase = 30 * time.Second
	DefaultBackoffMax  = 30 * time.Minute

	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 60 * time.Second

	DefaultPoolSize      = 4
	DefaultSubFetchLimit = 8

	DefaultServerAddress = ":8085"
	DefaultReadTimeout   = 10 * time.Second
	DefaultWriteTimeout  = 30 * time.Second
)

// Config is the root configuration for the coordination service.
type Config struct {
	Debug    bool           `mapstructure:"debug"    yaml:"debug"`
	Logging  logger.Config  `mapstructure:"logging"  yaml:"logging"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Queue    QueueConfig    `mapstructure:"queue"    yaml:"queue"`
	Recovery RecoveryConfig `mapstructure:"recovery" yaml:"recovery"`
	Backoff  BackoffConfig  `mapstructure:"backoff"  yaml:"backoff"`
	Breaker  BreakerConfig  `mapstructure:"breaker"  yaml:"breaker"`
	Worker   WorkerConfig   `mapstructure:"worker"   yaml:"worker"`
	Server   ServerConfig   `mapstructure:"server"   yaml:"server"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"     yaml:"host"`
	Port     string `mapstructure:"port"     yaml:"port"`
	User     string `mapstructure:"user"     yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	DBName   string `mapstructure:"dbname"   yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode"  yaml:"sslmode"`
}

// QueueConfig holds claim and lease settings.
type QueueConfig struct {
	// LeaseTimeout is how long a claimed item may go without a heartbeat
	// before stale recovery reclaims it.
	LeaseTimeout time.Duration `mapstructure:"lease_timeout" yaml:"lease_timeout"`
	// MaxAttempts is the retry budget per item, after which it is marked failed.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// BatchSize is the maximum number of items claimed per call.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
	// HeartbeatMinInterval throttles lease refresh writes per item.
	HeartbeatMinInterval time.Duration `mapstructure:"heartbeat_min_interval" yaml:"heartbeat_min_interval"`
	// PollInterval is the worker sleep when a claim comes back empty.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// RecoveryConfig holds stale-lease and stuck-run recovery settings.
type RecoveryConfig struct {
	// StuckThresholdPct is the terminal fraction (percent) above which a run
	// is considered near-complete for stuck detection.
	StuckThresholdPct float64 `mapstructure:"stuck_threshold_pct" yaml:"stuck_threshold_pct"`
	// StuckTimeout is how long the remaining count must stay unchanged above
	// the threshold before the remainder is force-resolved.
	StuckTimeout time.Duration `mapstructure:"stuck_timeout" yaml:"stuck_timeout"`
	// SweepInterval is the standalone watchdog sweep period.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// BackoffConfig holds retry backoff settings.
type BackoffConfig struct {
	BaseDelay time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"  yaml:"max_delay"`
}

// BreakerConfig holds circuit breaker settings for the upstream dependency.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"          yaml:"cooldown"`
}

// WorkerConfig holds worker pool settings.
type WorkerConfig struct {
	// PoolSize is the number of concurrent claim-process loops.
	PoolSize int `mapstructure:"pool_size" yaml:"pool_size"`
	// SubFetchLimit bounds per-item internal concurrency.
	SubFetchLimit int `mapstructure:"sub_fetch_limit" yaml:"sub_fetch_limit"`
}

// ServerConfig holds the operational HTTP server settings.
type ServerConfig struct {
	Address      string        `mapstructure:"address"       yaml:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"  yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// Load reads the configuration file at path (or the default search paths if
// path is empty), applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults plus env are enough.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers default values for every knob.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "coordinator")
	v.SetDefault("database.dbname", "coordinator")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("queue.lease_timeout", DefaultLeaseTimeout)
	v.SetDefault("queue.max_attempts", DefaultMaxAttempts)
	v.SetDefault("queue.batch_size", DefaultBatchSize)
	v.SetDefault("queue.heartbeat_min_interval", DefaultHeartbeatMinInterval)
	v.SetDefault("queue.poll_interval", DefaultPollInterval)

	v.SetDefault("recovery.stuck_threshold_pct", DefaultStuckThresholdPct)
	v.SetDefault("recovery.stuck_timeout", DefaultStuckTimeout)
	v.SetDefault("recovery.sweep_interval", DefaultSweepInterval)

	v.SetDefault("backoff.base_delay", DefaultBackoffBase)
	v.SetDefault("backoff.max_delay", DefaultBackoffMax)

	v.SetDefault("breaker.failure_threshold", DefaultBreakerThreshold)
	v.SetDefault("breaker.cooldown", DefaultBreakerCooldown)

	v.SetDefault("worker.pool_size", DefaultPoolSize)
	v.SetDefault("worker.sub_fetch_limit", DefaultSubFetchLimit)

	v.SetDefault("server.address", DefaultServerAddress)
	v.SetDefault("server.read_timeout", DefaultReadTimeout)
	v.SetDefault("server.write_timeout", DefaultWriteTimeout)
}

// Validate checks the configuration for values that indicate
// misconfiguration rather than transient load.
func (c *Config) Validate() error {
	if c.Queue.LeaseTimeout <= 0 {
		return fmt.Errorf("queue.lease_timeout must be positive, got %v", c.Queue.LeaseTimeout)
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be positive, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue.batch_size must be positive, got %d", c.Queue.BatchSize)
	}
	if c.Queue.HeartbeatMinInterval < 0 {
		return fmt.Errorf("queue.heartbeat_min_interval must not be negative, got %v", c.Queue.HeartbeatMinInterval)
	}
	if c.Recovery.StuckThresholdPct <= 0 || c.Recovery.StuckThresholdPct > 100 {
		return fmt.Errorf("recovery.stuck_threshold_pct must be in (0, 100], got %v", c.Recovery.StuckThresholdPct)
	}
	if c.Backoff.BaseDelay <= 0 {
		return fmt.Errorf("backoff.base_delay must be positive, got %v", c.Backoff.BaseDelay)
	}
	if c.Backoff.MaxDelay < c.Backoff.BaseDelay {
		return fmt.Errorf("backoff.max_delay must be >= base_delay, got %v < %v", c.Backoff.MaxDelay, c.Backoff.BaseDelay)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive, got %d", c.Breaker.FailureThreshold)
	}
	if c.Worker.PoolSize <= 0 {
		return fmt.Errorf("worker.pool_size must be positive, got %d", c.Worker.PoolSize)
	}
	if c.Worker.SubFetchLimit <= 0 {
		return fmt.Errorf("worker.sub_fetch_limit must be positive, got %d", c.Worker.SubFetchLimit)
	}
	return nil
}
