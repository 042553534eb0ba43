package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	SumUp    SumUpConfig
	Email    EmailConfig
	Secrets  SecretsConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers []string
	Enabled bool
	Topics  TopicConfig
}

type TopicConfig struct {
	PaymentConfirmed string
	TicketsIssued    string
	OrderCancelled   string
}

type SumUpConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type EmailConfig struct {
	SMTPHost      string
	SMTPPort      string
	SMTPUsername  string
	SMTPPassword  string
	FromAddress   string
	OperatorAlert string
	MaxRetries    int
}

type SecretsConfig struct {
	// TicketHashSecret keys the HMAC behind every validation hash. Rotating it
	// invalidates all outstanding QR codes.
	TicketHashSecret string
	// WebhookSecret keys the HMAC signature required on inbound provider
	// webhooks.
	WebhookSecret string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:          getEnv("POSTGRES_DSN", ""),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				PaymentConfirmed: getEnv("KAFKA_TOPIC_PAYMENT_CONFIRMED", "jerseyevents.payments.confirmed"),
				TicketsIssued:    getEnv("KAFKA_TOPIC_TICKETS_ISSUED", "jerseyevents.tickets.issued"),
				OrderCancelled:   getEnv("KAFKA_TOPIC_ORDER_CANCELLED", "jerseyevents.orders.cancelled"),
			},
		},
		SumUp: SumUpConfig{
			BaseURL: getEnv("SUMUP_BASE_URL", "https://api.sumup.com"),
			APIKey:  getEnv("SUMUP_API_KEY", ""),
			Timeout: time.Duration(getEnvInt("SUMUP_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Email: EmailConfig{
			SMTPHost:      getEnv("SMTP_HOST", "localhost"),
			SMTPPort:      getEnv("SMTP_PORT", "587"),
			SMTPUsername:  getEnv("SMTP_USERNAME", ""),
			SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
			FromAddress:   getEnv("EMAIL_FROM", "tickets@jerseyevents.example"),
			OperatorAlert: getEnv("EMAIL_OPERATOR_ALERT", "ops@jerseyevents.example"),
			MaxRetries:    getEnvInt("EMAIL_MAX_RETRIES", 3),
		},
		Secrets: SecretsConfig{
			TicketHashSecret: getEnv("TICKET_HASH_SECRET", ""),
			WebhookSecret:    getEnv("WEBHOOK_SECRET", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
