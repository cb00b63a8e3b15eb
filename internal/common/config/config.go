// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Alerts   AlertConfig    `mapstructure:"alerts"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	HTTPAddr    string `mapstructure:"http_addr"` // health + metrics listener
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ElasticsearchConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

// DispatchConfig holds settings for the dispatch orchestrator.
type DispatchConfig struct {
	// FallbackLocale, when non-empty, routes devices whose locale has no
	// content entry to this locale instead of dropping them.
	FallbackLocale string `mapstructure:"fallback_locale"`
	// DedupeTokens removes duplicate tokens from a locale group before
	// enqueueing. Off by default to preserve the historical behavior.
	DedupeTokens bool `mapstructure:"dedupe_tokens"`
}

// QueueConfig holds the durable job queue knobs consumed by the worker pool.
type QueueConfig struct {
	Name               string `mapstructure:"name"`
	MaxAttempts        int    `mapstructure:"max_attempts"`
	BackoffBase        int    `mapstructure:"backoff_base"` // milliseconds
	RetainedFailed     int    `mapstructure:"retained_failed"`
	WorkerConcurrency  int    `mapstructure:"worker_concurrency"`
	BatchSize          int    `mapstructure:"batch_size"`
	SendConcurrency    int    `mapstructure:"send_concurrency"`
	ShutdownGracePeriod int   `mapstructure:"shutdown_grace_period"` // milliseconds
}

// GatewayConfig holds settings for the push gateway providers.
type GatewayConfig struct {
	Provider string `mapstructure:"provider"` // "fcm" or "sns"
	Timeout  int    `mapstructure:"timeout"`  // milliseconds, per batch call

	FCM struct {
		Endpoint       string  `mapstructure:"endpoint"`
		ServerKey      string  `mapstructure:"server_key"`
		RequestsPerSec float64 `mapstructure:"requests_per_sec"` // 0 disables the limiter
	} `mapstructure:"fcm"`

	SNS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"sns"`
}

// AuditConfig holds settings for the delivery-history sink.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AlertConfig holds settings for dead-letter alerting.
type AlertConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	AWSRegion string `mapstructure:"aws_region"`
	FromEmail string `mapstructure:"from_email"`
	ToEmail   string `mapstructure:"to_email"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
