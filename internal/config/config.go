package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig
	DB          DBConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Saga        SagaConfig
	Outbox      OutboxConfig
	Coupon      CouponConfig
	AsyncStatus AsyncStatusConfig
	Alert       AlertConfig
	Log         LogConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string `envconfig:"SERVER_PORT" default:"3000"`
	ShutdownTimeout int    `envconfig:"SHUTDOWN_TIMEOUT" default:"30"` // seconds
}

// DBConfig holds database-related configuration.
// WARNING: Default password is for local development only.
// In production, always set DB_PASSWORD via environment variable.
// In production, set DB_SSLMODE to "require" or "verify-full".
type DBConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD" default:"postgres"` // CHANGE IN PRODUCTION
	Name     string `envconfig:"DB_NAME" default:"order_db"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"` // Use "require" in production
	MaxConns int    `envconfig:"DB_MAX_CONNS" default:"25"`
	MinConns int    `envconfig:"DB_MIN_CONNS" default:"5"`
}

// DSN returns the PostgreSQL connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode, c.MaxConns, c.MinConns)
}

// MigrationDSN returns the connection string without pool parameters, for
// the database/sql connection the migration runner opens.
func (c DBConfig) MigrationDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// RedisConfig holds Redis connection configuration. Redis backs the
// distributed locks, the async status store, and the coupon cache.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// KafkaConfig holds event-log and coupon-queue broker configuration.
type KafkaConfig struct {
	Brokers            string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	OrderEventTopic    string `envconfig:"KAFKA_ORDER_EVENT_TOPIC" default:"order-events"`
	CouponEventTopic   string `envconfig:"KAFKA_COUPON_EVENT_TOPIC" default:"coupon-events"`
	CouponRequestTopic string `envconfig:"KAFKA_COUPON_REQUEST_TOPIC" default:"coupon-requests"`
	CouponDLQTopic     string `envconfig:"KAFKA_COUPON_DLQ_TOPIC" default:"coupon-requests-dlq"`
	ConsumerGroup      string `envconfig:"KAFKA_CONSUMER_GROUP" default:"coupon-issuers"`
	EventGroup         string `envconfig:"KAFKA_EVENT_CONSUMER_GROUP" default:"data-platform"`
}

// BrokerList splits the comma-separated broker string.
func (c KafkaConfig) BrokerList() []string {
	return strings.Split(c.Brokers, ",")
}

// SagaConfig holds saga step lock timings.
type SagaConfig struct {
	StepWaitTimeMs  int `envconfig:"SAGA_STEP_WAIT_TIME_MS" default:"5000"`
	StepLeaseTimeMs int `envconfig:"SAGA_STEP_LEASE_TIME_MS" default:"2000"`
}

// StepWait is the lock wait ceiling per saga step.
func (c SagaConfig) StepWait() time.Duration {
	return time.Duration(c.StepWaitTimeMs) * time.Millisecond
}

// StepLease is the KV-lock lease per saga step.
func (c SagaConfig) StepLease() time.Duration {
	return time.Duration(c.StepLeaseTimeMs) * time.Millisecond
}

// OutboxConfig holds outbox dispatcher settings.
type OutboxConfig struct {
	PollIntervalMs int `envconfig:"OUTBOX_POLL_INTERVAL_MS" default:"5000"`
	BatchSize      int `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	MaxRetries     int `envconfig:"OUTBOX_MAX_RETRIES" default:"3"`
	ClaimLeaseMs   int `envconfig:"OUTBOX_CLAIM_LEASE_MS" default:"60000"`
}

// PollInterval is how long the dispatcher sleeps between polls when no
// after-commit trigger arrives.
func (c OutboxConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// ClaimLease is how long a claimed (PUBLISHING) row stays off-limits before
// the dispatcher may reclaim it as stale.
func (c OutboxConfig) ClaimLease() time.Duration {
	return time.Duration(c.ClaimLeaseMs) * time.Millisecond
}

// CouponConfig holds coupon issuance pipeline settings.
type CouponConfig struct {
	Partitions       int `envconfig:"COUPON_PARTITIONS" default:"10"`
	MaxRetries       int `envconfig:"COUPON_MAX_RETRIES" default:"3"`
	EnqueueTimeoutMs int `envconfig:"COUPON_ENQUEUE_TIMEOUT_MS" default:"5000"`
	WorkerDeadlineMs int `envconfig:"COUPON_WORKER_DEADLINE_MS" default:"5000"`
}

// EnqueueTimeout bounds the whole enqueue call, validation plus log append.
func (c CouponConfig) EnqueueTimeout() time.Duration {
	return time.Duration(c.EnqueueTimeoutMs) * time.Millisecond
}

// WorkerDeadline bounds one issuance attempt inside a partition worker.
func (c CouponConfig) WorkerDeadline() time.Duration {
	return time.Duration(c.WorkerDeadlineMs) * time.Millisecond
}

// AsyncStatusConfig holds TTLs for the request status store.
type AsyncStatusConfig struct {
	TTLPendingMs  int `envconfig:"ASYNC_STATUS_TTL_PENDING_MS" default:"1800000"`
	TTLTerminalMs int `envconfig:"ASYNC_STATUS_TTL_TERMINAL_MS" default:"86400000"`
}

// TTLPending is how long a PENDING status row lives.
func (c AsyncStatusConfig) TTLPending() time.Duration {
	return time.Duration(c.TTLPendingMs) * time.Millisecond
}

// TTLTerminal is how long COMPLETED/FAILED rows live.
func (c AsyncStatusConfig) TTLTerminal() time.Duration {
	return time.Duration(c.TTLTerminalMs) * time.Millisecond
}

// AlertConfig holds the critical-compensation alert webhook. An empty URL
// disables the webhook; alerts then only land in the log.
type AlertConfig struct {
	WebhookURL string `envconfig:"ALERT_WEBHOOK_URL" default:""`
	TimeoutMs  int    `envconfig:"ALERT_TIMEOUT_MS" default:"3000"`
}

// Timeout bounds one webhook call.
func (c AlertConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// Load parses environment variables into the Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
