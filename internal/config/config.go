package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Kafka       KafkaConfig
	Redis       RedisConfig
	Market      MarketConfig
	Alerts      AlertsConfig
	Email       EmailConfig
	Log         LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	MigrationsPath string
}

// KafkaConfig holds Kafka/Redpanda configuration
type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	TicksTopic     string
	PositionsTopic string
	AlertsTopic    string
	ConsumerGroup  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled       bool
	Host          string
	Port          string
	Password      string
	DB            int
	AlertsChannel string
}

// MarketConfig holds market data provider configuration
type MarketConfig struct {
	YahooBaseURL     string
	CoinGeckoBaseURL string
	FinnhubBaseURL   string
	FinnhubToken     string
	Timeout          time.Duration
	RequestsPerSec   float64
	Burst            int
	QuoteTTL         time.Duration
	HistoryTTL       time.Duration
	ReferenceTTL     time.Duration
	Benchmark        string
	RiskFreeRate     float64
	HistoryDays      int
}

// AlertsConfig holds alert evaluation settings
type AlertsConfig struct {
	PollSchedule string
	PollEnabled  bool
}

// EmailConfig holds SendGrid settings. Email is disabled without an API key.
type EmailConfig struct {
	SendGridAPIKey string
	FromAddress    string
	FromName       string
	ToAddress      string
}

// LogConfig holds logger settings
type LogConfig struct {
	Level string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8081"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "postgres"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "trader"),
			Password:       getEnv("DB_PASSWORD", "trader5"),
			DBName:         getEnv("DB_NAME", "portfolio_tracker"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MigrationsPath: getEnv("DB_MIGRATIONS_PATH", "file://db/migrations"),
		},
		Kafka: KafkaConfig{
			Enabled:        getEnvBool("KAFKA_ENABLED", true),
			Brokers:        parseBrokers(getEnv("KAFKA_BROKERS", "localhost:19092")),
			TicksTopic:     getEnv("KAFKA_TICKS_TOPIC", "market.ticks"),
			PositionsTopic: getEnv("KAFKA_POSITIONS_TOPIC", "portfolio.positions"),
			AlertsTopic:    getEnv("KAFKA_ALERTS_TOPIC", "portfolio.alerts"),
			ConsumerGroup:  getEnv("KAFKA_CONSUMER_GROUP", "portfolio-tracker"),
		},
		Redis: RedisConfig{
			Enabled:       getEnvBool("REDIS_ENABLED", true),
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnv("REDIS_PORT", "6379"),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			AlertsChannel: getEnv("REDIS_ALERTS_CHANNEL", "portfolio:alerts"),
		},
		Market: MarketConfig{
			YahooBaseURL:     getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com"),
			CoinGeckoBaseURL: getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
			FinnhubBaseURL:   getEnv("FINNHUB_BASE_URL", "https://finnhub.io/api/v1"),
			FinnhubToken:     getEnv("FINNHUB_TOKEN", ""),
			Timeout:          getEnvDuration("MARKET_TIMEOUT", 10*time.Second),
			RequestsPerSec:   getEnvFloat("MARKET_RATE_LIMIT", 5),
			Burst:            getEnvInt("MARKET_RATE_BURST", 10),
			QuoteTTL:         getEnvDuration("QUOTE_CACHE_TTL", 5*time.Minute),
			HistoryTTL:       getEnvDuration("HISTORY_CACHE_TTL", 6*time.Hour),
			ReferenceTTL:     getEnvDuration("REFERENCE_CACHE_TTL", 24*time.Hour),
			Benchmark:        getEnv("RISK_BENCHMARK", "SPY"),
			RiskFreeRate:     getEnvFloat("RISK_FREE_RATE", 0.02),
			HistoryDays:      getEnvInt("RISK_HISTORY_DAYS", 90),
		},
		Alerts: AlertsConfig{
			PollSchedule: getEnv("ALERT_POLL_SCHEDULE", "@every 1m"),
			PollEnabled:  getEnvBool("ALERT_POLL_ENABLED", true),
		},
		Email: EmailConfig{
			SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
			FromAddress:    getEnv("ALERT_EMAIL_FROM", "alerts@localhost"),
			FromName:       getEnv("ALERT_EMAIL_FROM_NAME", "Portfolio Tracker"),
			ToAddress:      getEnv("ALERT_EMAIL_TO", ""),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

// Address returns the Redis address in host:port format
func (r *RedisConfig) Address() string {
	return r.Host + ":" + r.Port
}

// EmailEnabled reports whether alert e-mails can be sent
func (e *EmailConfig) EmailEnabled() bool {
	return e.SendGridAPIKey != "" && e.ToAddress != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

// parseBrokers splits a comma-separated broker list
func parseBrokers(brokers string) []string {
	parts := strings.Split(brokers, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
