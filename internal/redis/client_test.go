package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/portfolio-tracker/internal/models"
)

// fakeRedis is an in-memory stand-in for the go-redis commands we use
type fakeRedis struct {
	mu        sync.Mutex
	values    map[string]string
	ttls      map[string]time.Duration
	published map[string][]string
	failWith  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		values:    make(map[string]string),
		ttls:      make(map[string]time.Duration),
		published: make(map[string][]string),
	}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return redis.NewStringResult("", f.failWith)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return redis.NewStatusResult("", f.failWith)
	}
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return redis.NewIntResult(0, f.failWith)
	}
	f.published[channel] = append(f.published[channel], string(message.([]byte)))
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.failWith)
}

func newTestClient() (*Client, *fakeRedis) {
	f := newFakeRedis()
	return &Client{rdb: f, alertsChannel: "portfolio:alerts"}, f
}

func TestGet_MissIsNotAnError(t *testing.T) {
	c, _ := newTestClient()

	v, ok, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestPutThenGet(t *testing.T) {
	c, f := newTestClient()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k", []byte("payload"), time.Minute))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "payload", string(v))
	assert.Equal(t, time.Minute, f.ttls["k"])
}

func TestGet_Failure(t *testing.T) {
	c, f := newTestClient()
	f.failWith = errors.New("connection refused")

	_, ok, err := c.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.ErrorContains(t, err, "connection refused")
}

func TestQuoteRoundTrip(t *testing.T) {
	c, f := newTestClient()
	ctx := context.Background()

	q := models.Quote{
		Symbol:       "AAPL",
		AssetType:    models.AssetStock,
		CurrentPrice: decimal.RequireFromString("189.5"),
		Available:    true,
	}
	require.NoError(t, c.SetQuote(ctx, q, time.Minute))
	assert.Contains(t, f.values, "quote:STOCK:AAPL")

	got, ok, err := c.GetQuote(ctx, models.AssetStock, "AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.CurrentPrice.Equal(q.CurrentPrice))
	assert.Equal(t, "cache", got.Source)

	_, ok, err = c.GetQuote(ctx, models.AssetCrypto, "BTC")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNotify_PublishesAlert(t *testing.T) {
	c, f := newTestClient()

	alert := models.TriggeredAlert{EventID: "evt-1", AlertID: 3, Symbol: "BTC", Direction: models.DirectionAbove}
	require.NoError(t, c.Notify(context.Background(), alert))

	msgs := f.published["portfolio:alerts"]
	require.Len(t, msgs, 1)

	var got models.TriggeredAlert
	require.NoError(t, json.Unmarshal([]byte(msgs[0]), &got))
	assert.Equal(t, "evt-1", got.EventID)
	assert.Equal(t, 3, got.AlertID)
}

func TestNotify_Error(t *testing.T) {
	c, f := newTestClient()
	f.failWith = errors.New("broken pipe")

	err := c.Notify(context.Background(), models.TriggeredAlert{EventID: "evt-2"})
	assert.ErrorContains(t, err, "evt-2")
}

func TestClose_WithoutConnection(t *testing.T) {
	c, _ := newTestClient()
	assert.NoError(t, c.Close())
}
