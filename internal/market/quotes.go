package market

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/trogers1052/portfolio-tracker/internal/cache"
	"github.com/trogers1052/portfolio-tracker/internal/models"
	"github.com/trogers1052/portfolio-tracker/internal/quote"
)

// FetchQuote returns the raw provider payload for a symbol together with the
// source it must be normalized as. Quotes are fetched network first; the last
// cached payload is served when the provider fails.
func (c *Client) FetchQuote(ctx context.Context, assetType models.AssetType, symbol string) (quote.Source, []byte, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", nil, fmt.Errorf("%w: empty symbol", ErrUnsupportedSymbol)
	}

	switch assetType {
	case models.AssetCrypto:
		id, err := c.coinID(ctx, symbol)
		if err != nil {
			return "", nil, err
		}
		raw, err := c.resolver.Fetch(ctx, cache.ClassQuote, cache.Key(cache.ClassQuote, providerCoinGecko, id),
			func(ctx context.Context) ([]byte, error) {
				return c.get(ctx, providerCoinGecko, c.coinGeckoMarketsURL(id))
			})
		if err != nil {
			return "", nil, fmt.Errorf("failed to fetch %s quote: %w", symbol, err)
		}
		return quote.SourceCoinGecko, raw, nil

	case models.AssetStock:
		if c.cfg.FinnhubToken != "" {
			raw, err := c.resolver.Fetch(ctx, cache.ClassQuote, cache.Key(cache.ClassQuote, providerFinnhub, symbol),
				func(ctx context.Context) ([]byte, error) {
					return c.get(ctx, providerFinnhub, c.finnhubQuoteURL(symbol))
				})
			if err != nil {
				return "", nil, fmt.Errorf("failed to fetch %s quote: %w", symbol, notFound(err, symbol))
			}
			return quote.SourceFinnhub, raw, nil
		}

		raw, err := c.resolver.Fetch(ctx, cache.ClassQuote, cache.Key(cache.ClassQuote, providerYahoo, symbol),
			func(ctx context.Context) ([]byte, error) {
				return c.get(ctx, providerYahoo, c.yahooChartURL(symbol, "1d", "1d"))
			})
		if err != nil {
			return "", nil, fmt.Errorf("failed to fetch %s quote: %w", symbol, notFound(err, symbol))
		}
		return quote.SourceYahoo, raw, nil
	}

	return "", nil, fmt.Errorf("%w: unknown asset type %q", ErrUnsupportedSymbol, assetType)
}

func (c *Client) yahooChartURL(symbol, interval, rng string) string {
	values := url.Values{}
	values.Set("interval", interval)
	values.Set("range", rng)
	return fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.cfg.YahooBaseURL, url.PathEscape(symbol), values.Encode())
}

func (c *Client) coinGeckoMarketsURL(id string) string {
	values := url.Values{}
	values.Set("vs_currency", "usd")
	values.Set("ids", id)
	return c.cfg.CoinGeckoBaseURL + "/coins/markets?" + values.Encode()
}

func (c *Client) finnhubQuoteURL(symbol string) string {
	values := url.Values{}
	values.Set("symbol", symbol)
	values.Set("token", c.cfg.FinnhubToken)
	return c.cfg.FinnhubBaseURL + "/quote?" + values.Encode()
}
