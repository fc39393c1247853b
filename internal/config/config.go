package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	RabbitMQ RabbitMQConfig
	Webhook  WebhookConfig
	Queue    QueueConfig
	LogLevel string
}

type ServerConfig struct {
	Host string
	Port string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RabbitMQConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	VHost    string
	// Queue carrying rate/status/deployment notification events.
	EventQueue    string
	PrefetchCount int
}

// WebhookConfig is the outbound notification surface. A family with an
// empty URL is disabled: sends for it are silent no-ops.
type WebhookConfig struct {
	RateURL        string
	StatusURL      string
	DeploymentURL  string
	Secret         string
	TimeoutSeconds int
	MaxRetries     int
	// Deferred delay before the queue's own first attempt when the
	// immediate retry loop is exhausted.
	QueueDelaySeconds int
}

type QueueConfig struct {
	PollIntervalSeconds int
	BatchSize           int
	MaxAttempts         int
	RetentionDays       int
}

// Load reads configuration from the environment (and a local .env file if
// present). Missing required keys are collected and reported together.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var missing []string

	get := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	config := &Config{
		Server: ServerConfig{
			Host: getenv("SERVER_HOST", "0.0.0.0"),
			Port: getenv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     get("DB_HOST"),
			Port:     get("DB_PORT"),
			User:     get("DB_USER"),
			Password: get("DB_PASSWORD"),
			DBName:   get("DB_NAME"),
			SSLMode:  getenv("DB_SSLMODE", "disable"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:           os.Getenv("RABBITMQ_URL"),
			Host:          os.Getenv("RABBITMQ_HOST"),
			Port:          getenv("RABBITMQ_PORT", "5672"),
			User:          os.Getenv("RABBITMQ_USER"),
			Password:      os.Getenv("RABBITMQ_PASSWORD"),
			VHost:         getenv("RABBITMQ_VHOST", "/"),
			EventQueue:    getenv("RABBITMQ_EVENT_QUEUE", "notification.events"),
			PrefetchCount: getenvInt("RABBITMQ_PREFETCH_COUNT", 10),
		},
		Webhook: WebhookConfig{
			RateURL:           os.Getenv("WEBHOOK_RATE_URL"),
			StatusURL:         os.Getenv("WEBHOOK_STATUS_URL"),
			DeploymentURL:     os.Getenv("WEBHOOK_DEPLOYMENT_URL"),
			Secret:            os.Getenv("WEBHOOK_SECRET"),
			TimeoutSeconds:    getenvInt("WEBHOOK_TIMEOUT_SECONDS", 5),
			MaxRetries:        getenvInt("WEBHOOK_MAX_RETRIES", 3),
			QueueDelaySeconds: getenvInt("WEBHOOK_QUEUE_DELAY_SECONDS", 300),
		},
		Queue: QueueConfig{
			PollIntervalSeconds: getenvInt("QUEUE_POLL_INTERVAL_SECONDS", 60),
			BatchSize:           getenvInt("QUEUE_BATCH_SIZE", 10),
			MaxAttempts:         getenvInt("QUEUE_MAX_ATTEMPTS", 5),
			RetentionDays:       getenvInt("QUEUE_RETENTION_DAYS", 7),
		},
		LogLevel: getenv("LOG_LEVEL", "info"),
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return config, nil
}

// ConnectionString returns the DSN string for GORM.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

// MigrationURL returns the postgres URL used by golang-migrate.
func (c *DatabaseConfig) MigrationURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

func (c *RabbitMQConfig) ConnectionURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s%s",
		c.User, c.Password, c.Host, c.Port, c.VHost)
}

// Enabled reports whether the AMQP ingress should run. Without a broker
// the service still serves the queue worker and the read API.
func (c *RabbitMQConfig) Enabled() bool {
	return c.URL != "" || c.Host != ""
}

// Timeout returns the per-request delivery timeout.
func (c *WebhookConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PollInterval returns the queue worker tick interval.
func (c *QueueConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}
