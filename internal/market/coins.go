package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/trogers1052/portfolio-tracker/internal/cache"
)

var coinGeckoIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"SOL":   "solana",
	"DOGE":  "dogecoin",
	"ADA":   "cardano",
	"XRP":   "ripple",
	"DOT":   "polkadot",
	"AVAX":  "avalanche-2",
	"MATIC": "matic-network",
	"LINK":  "chainlink",
	"LTC":   "litecoin",
	"BNB":   "binancecoin",
	"USDT":  "tether",
	"USDC":  "usd-coin",
}

// coinID resolves a ticker to a CoinGecko coin id. Well-known tickers come
// from a static table; the rest go through CoinGecko search, cached
// stale-while-revalidate.
func (c *Client) coinID(ctx context.Context, symbol string) (string, error) {
	if id, ok := coinGeckoIDs[symbol]; ok {
		return id, nil
	}

	raw, err := c.resolver.Fetch(ctx, cache.ClassReference, cache.Key(cache.ClassReference, "coingecko-search", symbol),
		func(ctx context.Context) ([]byte, error) {
			values := url.Values{}
			values.Set("query", symbol)
			return c.get(ctx, providerCoinGecko, c.cfg.CoinGeckoBaseURL+"/search?"+values.Encode())
		})
	if err != nil {
		return "", fmt.Errorf("failed to resolve coin %s: %w", symbol, err)
	}

	var payload struct {
		Coins []struct {
			ID     string `json:"id"`
			Symbol string `json:"symbol"`
		} `json:"coins"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("failed to decode coin search: %w", err)
	}

	// results are ranked by market cap, so the first exact ticker match wins
	for _, coin := range payload.Coins {
		if strings.EqualFold(coin.Symbol, symbol) {
			return coin.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedSymbol, symbol)
}
