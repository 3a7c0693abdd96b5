package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the fraud prevention service
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Blacklist BlacklistConfig `mapstructure:"blacklist"`
	Velocity  VelocityConfig  `mapstructure:"velocity"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	HighValue HighValueConfig `mapstructure:"highvalue"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxRequestSize  int64         `mapstructure:"max_request_size"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	Password          string        `mapstructure:"password"`
	DB                int           `mapstructure:"db"`
	PoolSize          int           `mapstructure:"pool_size"`
	MinIdleConns      int           `mapstructure:"min_idle_conns"`
	MaxRetries        int           `mapstructure:"max_retries"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	BlacklistCacheTTL time.Duration `mapstructure:"blacklist_cache_ttl"`
}

// KafkaConfig holds Kafka configuration for the observability port
type KafkaConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Brokers        []string `mapstructure:"brokers"`
	DecisionsTopic string   `mapstructure:"decisions_topic"`
	AuditTopic     string   `mapstructure:"audit_topic"`
}

// BlacklistConfig holds registry tuning knobs
type BlacklistConfig struct {
	BatchCheckLimit   int `mapstructure:"batch_check_limit"`
	BulkImportLimit   int `mapstructure:"bulk_import_limit"`
	ImportConcurrency int `mapstructure:"import_concurrency"`
}

// VelocityConfig holds velocity limits and the rate-limit retry hint
type VelocityConfig struct {
	MaxTransactionsPerHour int           `mapstructure:"max_transactions_per_hour"`
	MaxTransactionsPerDay  int           `mapstructure:"max_transactions_per_day"`
	MaxVolumePerHour       float64       `mapstructure:"max_volume_per_hour"`
	MaxVolumePerDay        float64       `mapstructure:"max_volume_per_day"`
	RetryAfter             time.Duration `mapstructure:"retry_after"`
}

// PipelineConfig holds evaluation pipeline settings
type PipelineConfig struct {
	EvaluationTimeout time.Duration `mapstructure:"evaluation_timeout"`

	// Circuit breaker protecting blacklist and history store reads.
	// An open breaker routes evaluations to the fail-open branch.
	BreakerMaxFailures uint32        `mapstructure:"breaker_max_failures"`
	BreakerInterval    time.Duration `mapstructure:"breaker_interval"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
}

// HighValueConfig holds the amount thresholds for the high-value gate
type HighValueConfig struct {
	GateThreshold    float64 `mapstructure:"gate_threshold"`
	EnhancedKYC      float64 `mapstructure:"enhanced_kyc"`
	ManagerApproval  float64 `mapstructure:"manager_approval"`
	ComplianceReview float64 `mapstructure:"compliance_review"`
	RequiredKYCLevel int     `mapstructure:"required_kyc_level"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	ServiceName   string  `mapstructure:"service_name"`
	Environment   string  `mapstructure:"environment"`
	OTLPEndpoint  string  `mapstructure:"otlp_endpoint"`
	SamplingRatio float64 `mapstructure:"sampling_ratio"`
}

// SecurityConfig holds security configuration
type SecurityConfig struct {
	AdminJWTSecret string   `mapstructure:"admin_jwt_secret"`
	AdminRole      string   `mapstructure:"admin_role"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load loads configuration from environment and config files
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("FRAUD_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/fraud-service")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found, use defaults + env
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8086)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_request_size", 1048576) // 1MB

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.database", "fraud_db")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.conn_max_idle_time", "5m")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)
	v.SetDefault("redis.min_idle_conns", 20)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "1s")
	v.SetDefault("redis.write_timeout", "1s")
	v.SetDefault("redis.blacklist_cache_ttl", "10m")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.decisions_topic", "banking.fraud.decisions")
	v.SetDefault("kafka.audit_topic", "banking.audit.logs")

	// Blacklist defaults
	v.SetDefault("blacklist.batch_check_limit", 100)
	v.SetDefault("blacklist.bulk_import_limit", 10000)
	v.SetDefault("blacklist.import_concurrency", 8)

	// Velocity defaults
	v.SetDefault("velocity.max_transactions_per_hour", 10)
	v.SetDefault("velocity.max_transactions_per_day", 50)
	v.SetDefault("velocity.max_volume_per_hour", 10000.0)
	v.SetDefault("velocity.max_volume_per_day", 100000.0)
	v.SetDefault("velocity.retry_after", "1h")

	// Pipeline defaults
	v.SetDefault("pipeline.evaluation_timeout", "2s")
	v.SetDefault("pipeline.breaker_max_failures", 5)
	v.SetDefault("pipeline.breaker_interval", "1m")
	v.SetDefault("pipeline.breaker_timeout", "30s")

	// High-value gate defaults
	v.SetDefault("highvalue.gate_threshold", 50000.0)
	v.SetDefault("highvalue.enhanced_kyc", 100000.0)
	v.SetDefault("highvalue.manager_approval", 200000.0)
	v.SetDefault("highvalue.compliance_review", 500000.0)
	v.SetDefault("highvalue.required_kyc_level", 3)

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "fraud-service")
	v.SetDefault("telemetry.environment", "development")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.sampling_ratio", 0.1)

	// Security defaults
	v.SetDefault("security.admin_role", "compliance_admin")
	v.SetDefault("security.allowed_origins", []string{"*"})
}

// VelocityLimitsConfigured reports whether any velocity limit is set
func (c *VelocityConfig) VelocityLimitsConfigured() bool {
	return c.MaxTransactionsPerHour > 0 || c.MaxTransactionsPerDay > 0 ||
		c.MaxVolumePerHour > 0 || c.MaxVolumePerDay > 0
}
