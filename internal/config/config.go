package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Bus        BusConfig        `mapstructure:"bus"`
	SQS        SQSConfig        `mapstructure:"sqs"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	AdminAPI   AdminAPIConfig   `mapstructure:"admin_api"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Cleanup    CleanupConfig    `mapstructure:"cleanup"`
	DLQ        DLQConfig        `mapstructure:"dlq"`
}

// BusConfig holds the driver-selection and routing policy for the message bus.
type BusConfig struct {
	Driver                       string              `mapstructure:"driver"`
	DualWrite                    bool                `mapstructure:"dual_write"`
	FallbackToLegacy             bool                `mapstructure:"fallback_to_legacy"`
	Prefix                       string              `mapstructure:"prefix"`
	AutoEnsure                   bool                `mapstructure:"auto_ensure"`
	LongRunningEvents            []string            `mapstructure:"long_running_events"`
	Queues                       map[string]QueueSet `mapstructure:"queues"`
	EventListeners               map[string]string   `mapstructure:"event_listeners"`
	TargetQueues                 map[string]string   `mapstructure:"target_queues"`
	ValidationErrorRateThreshold float64             `mapstructure:"validation_error_rate_threshold"`
	TransientErrorRateThreshold  float64             `mapstructure:"transient_error_rate_threshold"`
}

// QueueSet names the logical queues a service publishes to.
type QueueSet struct {
	Default  string   `mapstructure:"default"`
	Specific []string `mapstructure:"specific"`
}

// SQSConfig holds AWS SQS transport tuning.
type SQSConfig struct {
	Region                   string `mapstructure:"region"`
	WaitTimeSeconds          int32  `mapstructure:"wait_time_seconds"`
	VisibilityTimeoutSeconds int32  `mapstructure:"visibility_timeout_seconds"`
}

// RedisConfig holds the connection parameters shared by the idempotency
// cache tier, the QueueResolver's URL cache, and the Legacy driver.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	PoolMin        int32         `mapstructure:"pool_min"`
	PoolMax        int32         `mapstructure:"pool_max"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AdminAPIConfig holds the optional operator HTTP surface configuration.
type AdminAPIConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	SigningKey string `mapstructure:"signing_key"`
}

// IdempotencyConfig holds the idempotency store's TTL tuning.
type IdempotencyConfig struct {
	ProcessingTTLSec int `mapstructure:"processing_ttl_sec"`
	ProcessedTTLSec  int `mapstructure:"processed_ttl_sec"`
}

// CleanupConfig holds the processed-events retention policy.
type CleanupConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// DLQConfig holds dead-letter-queue monitoring tuning.
type DLQConfig struct {
	AlertThreshold int `mapstructure:"alert_threshold"`
}

// Load reads configuration from the given config directory path.
// It looks for a file named "config.yaml" in that directory.
// Environment variables with prefix MSGBUS_ override file values.
// For example, MSGBUS_DATABASE_URL overrides database.url.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("MSGBUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bus.driver", "Managed")
	v.SetDefault("bus.prefix", "local")
	v.SetDefault("bus.validation_error_rate_threshold", 0.01)
	v.SetDefault("bus.transient_error_rate_threshold", 0.10)
	v.SetDefault("sqs.wait_time_seconds", 20)
	v.SetDefault("sqs.visibility_timeout_seconds", 30)
	v.SetDefault("idempotency.processing_ttl_sec", 300)
	v.SetDefault("idempotency.processed_ttl_sec", 604800)
	v.SetDefault("cleanup.retention_days", 7)
	v.SetDefault("dlq.alert_threshold", 10)
}
