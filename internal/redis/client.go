package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trogers1052/portfolio-tracker/internal/config"
	"github.com/trogers1052/portfolio-tracker/internal/models"
	"github.com/trogers1052/portfolio-tracker/internal/quote"
)

// commands is the subset of go-redis the client uses
type commands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Client wraps the Redis client with portfolio-specific operations.
// It backs the market-data cache and publishes triggered alerts.
type Client struct {
	rdb           commands
	closer        func() error
	alertsChannel string
}

// New creates a new Redis client
func New(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb, closer: rdb.Close, alertsChannel: cfg.AlertsChannel}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// Ping checks if Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Cache store operations

// Get returns a cached value; a missing key is not an error
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return b, true, nil
}

// Put stores a value with TTL
func (c *Client) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Quote caching operations

func quoteKey(assetType models.AssetType, symbol string) string {
	return fmt.Sprintf("quote:%s:%s", assetType, symbol)
}

// SetQuote caches the last normalized quote for a symbol
func (c *Client) SetQuote(ctx context.Context, q models.Quote, ttl time.Duration) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("failed to marshal quote: %w", err)
	}
	return c.Put(ctx, quoteKey(q.AssetType, q.Symbol), data, ttl)
}

// GetQuote returns the last cached quote. ok is false when nothing usable is cached.
func (c *Client) GetQuote(ctx context.Context, assetType models.AssetType, symbol string) (models.Quote, bool, error) {
	data, ok, err := c.Get(ctx, quoteKey(assetType, symbol))
	if err != nil || !ok {
		return models.Quote{}, false, err
	}

	q := quote.Normalize(quote.SourceCache, symbol, assetType, data, time.Now())
	return q, q.HasPrice(), nil
}

// Pub/Sub operations for real-time updates

// Publish publishes a message to a channel
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.rdb.Publish(ctx, channel, jsonData).Err()
}

// Notify publishes a triggered alert on the alerts channel
func (c *Client) Notify(ctx context.Context, alert models.TriggeredAlert) error {
	if err := c.Publish(ctx, c.alertsChannel, alert); err != nil {
		return fmt.Errorf("failed to publish alert %s: %w", alert.EventID, err)
	}
	return nil
}
