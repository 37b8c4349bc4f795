package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Signature policies for inbound webhooks. Strict rejects requests with
// a missing signature header; permissive accepts them but flags the
// event for monitoring (the provider occasionally omits the header).
const (
	SignaturePolicyStrict     = "strict"
	SignaturePolicyPermissive = "permissive"
)

type Config struct {
	AppPort string
	AppMode string

	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Webhook verification
	WebhookSecret    string
	SignaturePolicy  string
	SignatureMaxSkew time.Duration

	// Admin API
	AdminJWTSecret string

	// Dispatch queue
	WorkerCount      int
	QueuePollEvery   time.Duration
	QueueBatchSize   int
	HandlerTimeout   time.Duration
	LeaseDuration    time.Duration
	RetryMaxAttempts int
	RetryBaseBackoff time.Duration

	// Reconciliation
	ReconcileInterval   time.Duration
	StuckJobThreshold   time.Duration
	DriftSampleSize     int
	RetentionDays       int
	MonitorQueueDepth   int
	MonitorDeadLetters  int
	MonitorSweepFinding int

	// External provider API
	ProviderBaseURL string
	ProviderToken   string
	ProviderTimeout time.Duration

	// Alerting
	AlertWebhookURL string

	// Dead-letter archive (optional; disabled when bucket is empty)
	ArchiveRegion    string
	ArchiveBucket    string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveEndpoint  string

	// Endpoint rate limiting
	WebhookRateLimit  int
	WebhookRateWindow time.Duration
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort: getEnv("APP_PORT", "8080"),
		AppMode: getEnv("APP_MODE", "debug"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "ordersync"),
		DBPort:     getEnv("DB_PORT", "5432"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		WebhookSecret:    getEnv("WEBHOOK_SECRET", ""),
		SignaturePolicy:  getEnv("SIGNATURE_POLICY", SignaturePolicyPermissive),
		SignatureMaxSkew: getEnvAsDuration("SIGNATURE_MAX_SKEW", 5*time.Minute),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", "change-me"),

		WorkerCount:      getEnvAsInt("WORKER_COUNT", 4),
		QueuePollEvery:   getEnvAsDuration("QUEUE_POLL_EVERY", 500*time.Millisecond),
		QueueBatchSize:   getEnvAsInt("QUEUE_BATCH_SIZE", 50),
		HandlerTimeout:   getEnvAsDuration("HANDLER_TIMEOUT", 30*time.Second),
		LeaseDuration:    getEnvAsDuration("LEASE_DURATION", 2*time.Minute),
		RetryMaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", 5),
		RetryBaseBackoff: getEnvAsDuration("RETRY_BASE_BACKOFF", 2*time.Second),

		ReconcileInterval:   getEnvAsDuration("RECONCILE_INTERVAL", 15*time.Minute),
		StuckJobThreshold:   getEnvAsDuration("STUCK_JOB_THRESHOLD", 60*time.Minute),
		DriftSampleSize:     getEnvAsInt("DRIFT_SAMPLE_SIZE", 25),
		RetentionDays:       getEnvAsInt("PROCESSING_RETENTION_DAYS", 30),
		MonitorQueueDepth:   getEnvAsInt("MONITOR_QUEUE_DEPTH", 500),
		MonitorDeadLetters:  getEnvAsInt("MONITOR_DEAD_LETTERS", 10),
		MonitorSweepFinding: getEnvAsInt("MONITOR_SWEEP_FINDINGS", 20),

		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "https://connect.provider.example"),
		ProviderToken:   getEnv("PROVIDER_TOKEN", ""),
		ProviderTimeout: getEnvAsDuration("PROVIDER_TIMEOUT", 10*time.Second),

		AlertWebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),

		ArchiveRegion:    getEnv("ARCHIVE_S3_REGION", ""),
		ArchiveBucket:    getEnv("ARCHIVE_S3_BUCKET", ""),
		ArchiveAccessKey: getEnv("ARCHIVE_S3_ACCESS_KEY", ""),
		ArchiveSecretKey: getEnv("ARCHIVE_S3_SECRET_KEY", ""),
		ArchiveEndpoint:  getEnv("ARCHIVE_S3_ENDPOINT", ""),

		WebhookRateLimit:  getEnvAsInt("WEBHOOK_RATE_LIMIT", 300),
		WebhookRateWindow: getEnvAsDuration("WEBHOOK_RATE_WINDOW", time.Minute),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
