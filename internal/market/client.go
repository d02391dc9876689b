// Package market fetches raw quotes and daily price history from public
// market-data providers.
package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"github.com/trogers1052/portfolio-tracker/internal/cache"
	"github.com/trogers1052/portfolio-tracker/internal/config"
	"github.com/trogers1052/portfolio-tracker/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrUnsupportedSymbol is returned when no provider knows the symbol
var ErrUnsupportedSymbol = errors.New("unsupported symbol")

const (
	providerYahoo     = "yahoo"
	providerCoinGecko = "coingecko"
	providerFinnhub   = "finnhub"

	maxBodyBytes = 4 << 20
)

// StatusError is a non-200 response from a provider
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Client talks to Yahoo Finance, CoinGecko and Finnhub. Each provider has
// its own circuit breaker; all requests share one rate limiter.
type Client struct {
	cfg        config.MarketConfig
	httpClient *http.Client
	breakers   map[string]*gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	resolver   *cache.Resolver
	logger     *zap.Logger
	now        func() time.Time
}

// NewClient creates a market data client. Responses are cached through resolver.
func NewClient(cfg config.MarketConfig, resolver *cache.Resolver, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		resolver:   resolver,
		logger:     logger,
		now:        time.Now,
	}
	for _, name := range []string{providerYahoo, providerCoinGecko, providerFinnhub} {
		c.breakers[name] = c.newBreaker(name)
	}
	return c
}

func (c *Client) newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// client errors (unknown symbol, bad request) say nothing about provider health
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests
			}
			return err == nil
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			c.logger.Warn("Market provider circuit breaker state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// get performs a rate limited, breaker guarded GET and returns the body
func (c *Client) get(ctx context.Context, provider, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	body, err := c.breakers[provider].Execute(func() (interface{}, error) {
		return c.doGet(ctx, provider, url)
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.MarketRequestDuration.WithLabelValues(provider, status).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}
	return body.([]byte), nil
}

func (c *Client) doGet(ctx context.Context, provider, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", provider, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", provider, err)
	}

	if resp.StatusCode != http.StatusOK {
		snippet := body
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &StatusError{Provider: provider, StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	return body, nil
}

// notFound maps a provider 404 onto ErrUnsupportedSymbol
func notFound(err error, symbol string) error {
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrUnsupportedSymbol, symbol)
	}
	return err
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
