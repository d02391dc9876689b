package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	t.Setenv("ALERT_POLL_SCHEDULE", "")
	t.Setenv("MARKET_TIMEOUT", "")

	cfg := Load()

	assert.Equal(t, "8081", cfg.Server.Port)
	assert.Equal(t, "@every 1m", cfg.Alerts.PollSchedule)
	assert.Equal(t, 10*time.Second, cfg.Market.Timeout)
	assert.Equal(t, "market.ticks", cfg.Kafka.TicksTopic)
	assert.InDelta(t, 0.02, cfg.Market.RiskFreeRate, 1e-12)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("MARKET_TIMEOUT", "3s")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("KAFKA_ENABLED", "false")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,,")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Market.Timeout)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("MARKET_RATE_LIMIT", "fast")
	t.Setenv("MARKET_TIMEOUT", "soon")

	cfg := Load()

	assert.InDelta(t, 5.0, cfg.Market.RequestsPerSec, 1e-12)
	assert.Equal(t, 10*time.Second, cfg.Market.Timeout)
}

func TestConnectionString(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: "1", User: "u", Password: "p", DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:1/d?sslmode=disable", d.ConnectionString())
}

func TestEmailEnabled(t *testing.T) {
	assert.False(t, (&EmailConfig{}).EmailEnabled())
	assert.False(t, (&EmailConfig{SendGridAPIKey: "k"}).EmailEnabled())
	assert.True(t, (&EmailConfig{SendGridAPIKey: "k", ToAddress: "me@example.com"}).EmailEnabled())
}
