package market

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/portfolio-tracker/internal/cache"
	"github.com/trogers1052/portfolio-tracker/internal/config"
	"github.com/trogers1052/portfolio-tracker/internal/models"
	"github.com/trogers1052/portfolio-tracker/internal/quote"
	"go.uber.org/zap"
)

const yahooQuoteBody = `{"chart":{"result":[{"meta":{"symbol":"AAPL","regularMarketPrice":189.5,
"chartPreviousClose":185.0,"regularMarketDayHigh":190,"regularMarketDayLow":184,
"regularMarketVolume":1000,"regularMarketTime":1700000000}}]}}`

const yahooHistoryBody = `{"chart":{"result":[{"meta":{"symbol":"AAPL","gmtoffset":-18000},
"timestamp":[1699885800,1699972200,1700058600,1700145000,1700231400],
"indicators":{"quote":[{"close":[100.0,null,101.0,102.5,103.0]}]}}]}}`

type fakeProviders struct {
	server   *httptest.Server
	requests map[string]*int32
	failing  atomic.Bool
}

func (f *fakeProviders) count(path string) int32 {
	if c, ok := f.requests[path]; ok {
		return atomic.LoadInt32(c)
	}
	return 0
}

func newFakeProviders(t *testing.T) *fakeProviders {
	t.Helper()
	f := &fakeProviders{requests: map[string]*int32{}}

	routes := map[string]func(w http.ResponseWriter, r *http.Request){
		"/v8/finance/chart/AAPL": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("range") == "1d" {
				fmt.Fprint(w, yahooQuoteBody)
				return
			}
			fmt.Fprint(w, yahooHistoryBody)
		},
		"/v8/finance/chart/NOPE": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"chart":{"error":{"code":"Not Found"}}}`, http.StatusNotFound)
		},
		"/cg/coins/markets": func(w http.ResponseWriter, r *http.Request) {
			id := r.URL.Query().Get("ids")
			fmt.Fprintf(w, `[{"id":%q,"symbol":"x","current_price":42000,"price_change_24h":1000,
"high_24h":42500,"low_24h":40500,"total_volume":5000}]`, id)
		},
		"/cg/search": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"coins":[{"id":"pepe","symbol":"PEPE"},{"id":"pepe-fork","symbol":"PEPE"}]}`)
		},
		"/cg/coins/bitcoin/market_chart": func(w http.ResponseWriter, r *http.Request) {
			// two points on the last day: the live price replaces the daily close
			fmt.Fprint(w, `{"prices":[[1700006400000,36000],[1700092800000,37000],[1700179200000,37500],[1700200000000,37600]]}`)
		},
		"/fh/quote": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"c":189.5,"o":186,"h":190,"l":184,"pc":185,"dp":2.43,"t":1700000000}`)
		},
	}

	mux := http.NewServeMux()
	for path, h := range routes {
		var n int32
		f.requests[path] = &n
		handler := h
		counter := &n
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(counter, 1)
			if f.failing.Load() {
				http.Error(w, "upstream down", http.StatusBadGateway)
				return
			}
			handler(w, r)
		})
	}

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func newTestClient(t *testing.T, f *fakeProviders, finnhubToken string) *Client {
	t.Helper()
	cfg := config.MarketConfig{
		YahooBaseURL:     f.server.URL,
		CoinGeckoBaseURL: f.server.URL + "/cg",
		FinnhubBaseURL:   f.server.URL + "/fh",
		FinnhubToken:     finnhubToken,
		Timeout:          2 * time.Second,
		RequestsPerSec:   1000,
		Burst:            100,
	}
	resolver := cache.NewResolver(cache.NewMemory(), nil, zap.NewNop())
	t.Cleanup(resolver.Wait)
	return NewClient(cfg, resolver, zap.NewNop())
}

// ---------------------------------------------------------------------------
// Quotes
// ---------------------------------------------------------------------------

func TestFetchQuote_StockFromYahoo(t *testing.T) {
	f := newFakeProviders(t)
	c := newTestClient(t, f, "")

	source, raw, err := c.FetchQuote(context.Background(), models.AssetStock, "aapl")
	require.NoError(t, err)
	assert.Equal(t, quote.SourceYahoo, source)

	q := quote.Normalize(source, "AAPL", models.AssetStock, raw, time.Now())
	assert.True(t, q.Available)
	assert.Equal(t, "189.5", q.CurrentPrice.String())
}

func TestFetchQuote_StockFromFinnhubWhenTokenSet(t *testing.T) {
	f := newFakeProviders(t)
	c := newTestClient(t, f, "secret")

	source, raw, err := c.FetchQuote(context.Background(), models.AssetStock, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, quote.SourceFinnhub, source)
	assert.Contains(t, string(raw), `"c":189.5`)
	assert.Equal(t, int32(0), f.count("/v8/finance/chart/AAPL"))
}

func TestFetchQuote_UnknownStock(t *testing.T) {
	f := newFakeProviders(t)
	c := newTestClient(t, f, "")

	_, _, err := c.FetchQuote(context.Background(), models.AssetStock, "NOPE")
	assert.ErrorIs(t, err, ErrUnsupportedSymbol)
}

func TestFetchQuote_CryptoKnownID(t *testing.T) {
	f := newFakeProviders(t)
	c := newTestClient(t, f, "")

	source, raw, err := c.FetchQuote(context.Background(), models.AssetCrypto, "BTC")
	require.NoError(t, err)
	assert.Equal(t, quote.SourceCoinGecko, source)
	assert.Contains(t, string(raw), `"id":"bitcoin"`)
	assert.Equal(t, int32(0), f.count("/cg/search"))
}

func TestFetchQuote_CryptoResolvedBySearch(t *testing.T) {
	f := newFakeProviders(t)
	c := newTestClient(t, f, "")

	_, raw, err := c.FetchQuote(context.Background(), models.AssetCrypto, "PEPE")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"id":"pepe"`)
	assert.Equal(t, int32(1), f.count("/cg/search"))
}

func TestFetchQuote_CryptoUnknown(t *testing.T) {
	f := newFakeProviders(t)
	c := newTestClient(t, f, "")

	_, _, err := c.FetchQuote(context.Background(), models.AssetCrypto, "ZZZ")
	assert.ErrorIs(t, err, ErrUnsupportedSymbol)
}

func TestFetchQuote_FallsBackToCachedPayload(t *testing.T) {
	f := newFakeProviders(t)
	c := newTestClient(t, f, "")
	ctx := context.Background()

	_, first, err := c.FetchQuote(ctx, models.AssetStock, "AAPL")
	require.NoError(t, err)

	f.failing.Store(true)
	_, second, err := c.FetchQuote(ctx, models.AssetStock, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(2), f.count("/v8/finance/chart/AAPL"))
}

func TestFetchQuote_ProviderDownWithoutCache(t *testing.T) {
	f := newFakeProviders(t)
	c := newTestClient(t, f, "")
	f.failing.Store(true)

	_, _, err := c.FetchQuote(context.Background(), models.AssetStock, "AAPL")
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
}

func TestFetchQuote_UnknownAssetType(t *testing.T) {
	f := newFakeProviders(t)
	c := newTestClient(t, f, "")

	_, _, err := c.FetchQuote(context.Background(), models.AssetType("BOND"), "T")
	assert.ErrorIs(t, err, ErrUnsupportedSymbol)
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func TestFetchDailyCloses_StockSkipsNulls(t *testing.T) {
	f := newFakeProviders(t)
	c := newTestClient(t, f, "")

	closes, err := c.FetchDailyCloses(context.Background(), models.AssetStock, "AAPL", 30)
	require.NoError(t, err)
	assert.Equal(t, []models.DailyClose{
		{Date: day(2023, 11, 13), Close: 100},
		{Date: day(2023, 11, 15), Close: 101},
		{Date: day(2023, 11, 16), Close: 102.5},
		{Date: day(2023, 11, 17), Close: 103},
	}, closes)
}

func TestFetchDailyCloses_TrimsToDays(t *testing.T) {
	f := newFakeProviders(t)
	c := newTestClient(t, f, "")

	closes, err := c.FetchDailyCloses(context.Background(), models.AssetStock, "AAPL", 2)
	require.NoError(t, err)
	require.Len(t, closes, 2)
	assert.Equal(t, day(2023, 11, 16), closes[0].Date)
	assert.Equal(t, 103.0, closes[1].Close)
}

func TestFetchDailyCloses_CacheFirst(t *testing.T) {
	f := newFakeProviders(t)
	c := newTestClient(t, f, "")
	ctx := context.Background()

	_, err := c.FetchDailyCloses(ctx, models.AssetStock, "AAPL", 30)
	require.NoError(t, err)
	_, err = c.FetchDailyCloses(ctx, models.AssetStock, "AAPL", 30)
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.count("/v8/finance/chart/AAPL"))
}

func TestFetchDailyCloses_CryptoOnePointPerDay(t *testing.T) {
	f := newFakeProviders(t)
	c := newTestClient(t, f, "")

	closes, err := c.FetchDailyCloses(context.Background(), models.AssetCrypto, "BTC", 30)
	require.NoError(t, err)
	assert.Equal(t, []models.DailyClose{
		{Date: day(2023, 11, 15), Close: 36000},
		{Date: day(2023, 11, 16), Close: 37000},
		{Date: day(2023, 11, 17), Close: 37600},
	}, closes)
}

func TestParseYahooCloses_LocalDateAndSameDayReplace(t *testing.T) {
	// 01:00 UTC is still the previous evening in New York; the third bar is
	// a live point on the same session as the second
	raw := []byte(`{"chart":{"result":[{"meta":{"gmtoffset":-18000},
		"timestamp":[1700096400,1700145000,1700160000],
		"indicators":{"quote":[{"close":[10,11,11.5]}]}}]}}`)

	closes, err := parseYahooCloses(raw)
	require.NoError(t, err)
	assert.Equal(t, []models.DailyClose{
		{Date: day(2023, 11, 15), Close: 10},
		{Date: day(2023, 11, 16), Close: 11.5},
	}, closes)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestFetchDailyCloses_InvalidDays(t *testing.T) {
	f := newFakeProviders(t)
	c := newTestClient(t, f, "")

	_, err := c.FetchDailyCloses(context.Background(), models.AssetStock, "AAPL", 0)
	assert.Error(t, err)
}

func TestYahooRange(t *testing.T) {
	assert.Equal(t, "5d", yahooRange(3))
	assert.Equal(t, "3mo", yahooRange(60))
	assert.Equal(t, "6mo", yahooRange(90))
	assert.Equal(t, "1y", yahooRange(252))
	assert.Equal(t, "5y", yahooRange(2000))
}
