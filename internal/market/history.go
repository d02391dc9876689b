package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/trogers1052/portfolio-tracker/internal/cache"
	"github.com/trogers1052/portfolio-tracker/internal/models"
)

// FetchDailyCloses returns up to days dated daily closes, oldest first.
// Stocks are dated by exchange trading day, crypto by UTC calendar day.
// History is served cache first; keys roll over once per UTC day.
func (c *Client) FetchDailyCloses(ctx context.Context, assetType models.AssetType, symbol string, days int) ([]models.DailyClose, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}
	day := c.now().UTC().Format("2006-01-02")

	var closes []models.DailyClose
	switch assetType {
	case models.AssetCrypto:
		id, err := c.coinID(ctx, symbol)
		if err != nil {
			return nil, err
		}
		raw, err := c.resolver.Fetch(ctx, cache.ClassHistory, cache.Key(cache.ClassHistory, providerCoinGecko, id, itoa(days), day),
			func(ctx context.Context) ([]byte, error) {
				values := url.Values{}
				values.Set("vs_currency", "usd")
				values.Set("days", itoa(days))
				values.Set("interval", "daily")
				return c.get(ctx, providerCoinGecko, c.cfg.CoinGeckoBaseURL+"/coins/"+url.PathEscape(id)+"/market_chart?"+values.Encode())
			})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s history: %w", symbol, err)
		}
		if closes, err = parseCoinGeckoChart(raw); err != nil {
			return nil, err
		}

	case models.AssetStock:
		raw, err := c.resolver.Fetch(ctx, cache.ClassHistory, cache.Key(cache.ClassHistory, providerYahoo, symbol, itoa(days), day),
			func(ctx context.Context) ([]byte, error) {
				return c.get(ctx, providerYahoo, c.yahooChartURL(symbol, "1d", yahooRange(days)))
			})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s history: %w", symbol, notFound(err, symbol))
		}
		if closes, err = parseYahooCloses(raw); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: unknown asset type %q", ErrUnsupportedSymbol, assetType)
	}

	if len(closes) > days {
		closes = closes[len(closes)-days:]
	}
	return closes, nil
}

// yahooRange picks the smallest chart range covering days trading days
func yahooRange(days int) string {
	switch {
	case days <= 5:
		return "5d"
	case days <= 21:
		return "1mo"
	case days <= 63:
		return "3mo"
	case days <= 126:
		return "6mo"
	case days <= 252:
		return "1y"
	case days <= 504:
		return "2y"
	default:
		return "5y"
	}
}

func parseYahooCloses(raw []byte) ([]models.DailyClose, error) {
	var payload struct {
		Chart struct {
			Result []struct {
				Meta struct {
					GMTOffset int64 `json:"gmtoffset"`
				} `json:"meta"`
				Timestamp  []int64 `json:"timestamp"`
				Indicators struct {
					Quote []struct {
						Close []*float64 `json:"close"`
					} `json:"quote"`
				} `json:"indicators"`
			} `json:"result"`
		} `json:"chart"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode yahoo chart: %w", err)
	}
	if len(payload.Chart.Result) == 0 || len(payload.Chart.Result[0].Indicators.Quote) == 0 {
		return []models.DailyClose{}, nil
	}

	// yahoo leaves nulls for halted sessions; timestamps are session opens,
	// shifted by the exchange offset so each close lands on its local date
	result := payload.Chart.Result[0]
	raw0 := result.Indicators.Quote[0].Close
	closes := make([]models.DailyClose, 0, len(raw0))
	for i, v := range raw0 {
		if v == nil || *v <= 0 || i >= len(result.Timestamp) {
			continue
		}
		closes = appendClose(closes, dayOf(time.Unix(result.Timestamp[i]+result.Meta.GMTOffset, 0)), *v)
	}
	return closes, nil
}

func parseCoinGeckoChart(raw []byte) ([]models.DailyClose, error) {
	var payload struct {
		Prices [][2]float64 `json:"prices"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode coingecko chart: %w", err)
	}

	points := payload.Prices
	sort.SliceStable(points, func(i, j int) bool { return points[i][0] < points[j][0] })

	// market_chart appends the live price as a final point on the current day
	closes := make([]models.DailyClose, 0, len(points))
	for _, p := range points {
		if p[1] <= 0 {
			continue
		}
		closes = appendClose(closes, dayOf(time.UnixMilli(int64(p[0]))), p[1])
	}
	return closes, nil
}

// appendClose adds a close, replacing the previous one when both fall on
// the same day. Input must be in time order.
func appendClose(closes []models.DailyClose, day time.Time, v float64) []models.DailyClose {
	if n := len(closes); n > 0 && closes[n-1].Date.Equal(day) {
		closes[n-1].Close = v
		return closes
	}
	return append(closes, models.DailyClose{Date: day, Close: v})
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
