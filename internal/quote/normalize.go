// Package quote converts market-data provider payloads into the canonical
// models.Quote shape.
package quote

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/portfolio-tracker/internal/models"
)

// Source identifies the provider a raw payload came from
type Source string

const (
	SourceYahoo     Source = "yahoo"
	SourceCoinGecko Source = "coingecko"
	SourceFinnhub   Source = "finnhub"
	SourceCache     Source = "cache"
)

// Normalize converts a raw provider payload into a Quote. It never fails: a
// malformed payload or a missing/non-positive price yields an unavailable
// quote, and any other absent field is zeroed and listed in Quote.Missing.
func Normalize(source Source, symbol string, assetType models.AssetType, raw []byte, now time.Time) models.Quote {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	var f fields
	var ok bool
	switch source {
	case SourceYahoo:
		f, ok = parseYahoo(raw)
	case SourceCoinGecko:
		f, ok = parseCoinGecko(raw)
	case SourceFinnhub:
		f, ok = parseFinnhub(raw)
	case SourceCache:
		f, ok = parseCached(raw)
	}

	if !ok || f.price == nil || !f.price.IsPositive() {
		q := models.UnavailableQuote(symbol, assetType, now)
		q.Source = string(source)
		return q
	}

	q := models.Quote{
		Symbol:       symbol,
		AssetType:    assetType,
		Source:       string(source),
		CurrentPrice: *f.price,
		AsOf:         now,
		Available:    true,
	}
	q.Open = f.take(f.open, "open")
	q.High = f.take(f.high, "high")
	q.Low = f.take(f.low, "low")
	q.PreviousClose = f.take(f.previousClose, "previous_close")

	switch {
	case f.changePercent != nil:
		q.ChangePercent24h = *f.changePercent
	case f.previousClose != nil && f.previousClose.IsPositive():
		q.ChangePercent24h = q.CurrentPrice.Sub(*f.previousClose).
			Div(*f.previousClose).Mul(decimal.NewFromInt(100))
	default:
		f.missing = append(f.missing, "change_percent_24h")
	}

	if f.volume != nil && *f.volume >= 0 {
		q.Volume = *f.volume
	} else {
		f.missing = append(f.missing, "volume")
	}

	if f.asOf != nil && !f.asOf.IsZero() {
		q.AsOf = f.asOf.UTC()
	}

	q.Missing = f.missing
	return q
}

// fields is the provider-independent intermediate form; nil means absent
type fields struct {
	price         *decimal.Decimal
	open          *decimal.Decimal
	high          *decimal.Decimal
	low           *decimal.Decimal
	previousClose *decimal.Decimal
	changePercent *decimal.Decimal
	volume        *int64
	asOf          *time.Time
	missing       []string
}

func (f *fields) take(v *decimal.Decimal, name string) decimal.Decimal {
	if v == nil {
		f.missing = append(f.missing, name)
		return decimal.Zero
	}
	return *v
}

func dec(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}

func vol(v *float64) *int64 {
	if v == nil || *v < 0 {
		return nil
	}
	n := int64(*v)
	return &n
}

func unix(v *int64) *time.Time {
	if v == nil || *v <= 0 {
		return nil
	}
	t := time.Unix(*v, 0)
	return &t
}

func parseYahoo(raw []byte) (fields, bool) {
	var payload struct {
		Chart struct {
			Result []struct {
				Meta struct {
					RegularMarketPrice   *float64 `json:"regularMarketPrice"`
					RegularMarketOpen    *float64 `json:"regularMarketOpen"`
					RegularMarketDayHigh *float64 `json:"regularMarketDayHigh"`
					RegularMarketDayLow  *float64 `json:"regularMarketDayLow"`
					ChartPreviousClose   *float64 `json:"chartPreviousClose"`
					PreviousClose        *float64 `json:"previousClose"`
					RegularMarketVolume  *float64 `json:"regularMarketVolume"`
					RegularMarketTime    *int64   `json:"regularMarketTime"`
				} `json:"meta"`
			} `json:"result"`
		} `json:"chart"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || len(payload.Chart.Result) == 0 {
		return fields{}, false
	}
	m := payload.Chart.Result[0].Meta
	prev := m.PreviousClose
	if prev == nil {
		prev = m.ChartPreviousClose
	}
	return fields{
		price:         dec(m.RegularMarketPrice),
		open:          dec(m.RegularMarketOpen),
		high:          dec(m.RegularMarketDayHigh),
		low:           dec(m.RegularMarketDayLow),
		previousClose: dec(prev),
		volume:        vol(m.RegularMarketVolume),
		asOf:          unix(m.RegularMarketTime),
	}, true
}

func parseCoinGecko(raw []byte) (fields, bool) {
	type market struct {
		CurrentPrice             *float64 `json:"current_price"`
		High24h                  *float64 `json:"high_24h"`
		Low24h                   *float64 `json:"low_24h"`
		PriceChange24h           *float64 `json:"price_change_24h"`
		PriceChangePercentage24h *float64 `json:"price_change_percentage_24h"`
		TotalVolume              *float64 `json:"total_volume"`
		LastUpdated              string   `json:"last_updated"`
	}

	// /coins/markets returns an array; a single object is accepted as well
	var m market
	var list []market
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return fields{}, false
		}
		m = list[0]
	} else if err := json.Unmarshal(raw, &m); err != nil {
		return fields{}, false
	}

	f := fields{
		price:         dec(m.CurrentPrice),
		high:          dec(m.High24h),
		low:           dec(m.Low24h),
		changePercent: dec(m.PriceChangePercentage24h),
		volume:        vol(m.TotalVolume),
	}
	// No session open on CoinGecko, so open stays missing. Previous close is
	// price minus the 24h change.
	if m.CurrentPrice != nil && m.PriceChange24h != nil {
		prev := decimal.NewFromFloat(*m.CurrentPrice).Sub(decimal.NewFromFloat(*m.PriceChange24h))
		f.previousClose = &prev
	}
	if t, err := time.Parse(time.RFC3339, m.LastUpdated); err == nil {
		f.asOf = &t
	}
	return f, true
}

func parseFinnhub(raw []byte) (fields, bool) {
	var payload struct {
		C  *float64 `json:"c"`
		O  *float64 `json:"o"`
		H  *float64 `json:"h"`
		L  *float64 `json:"l"`
		PC *float64 `json:"pc"`
		DP *float64 `json:"dp"`
		T  *int64   `json:"t"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fields{}, false
	}
	// Finnhub's quote endpoint carries no volume
	return fields{
		price:         dec(payload.C),
		open:          dec(payload.O),
		high:          dec(payload.H),
		low:           dec(payload.L),
		previousClose: dec(payload.PC),
		changePercent: dec(payload.DP),
		asOf:          unix(payload.T),
	}, true
}

func parseCached(raw []byte) (fields, bool) {
	var q models.Quote
	if err := json.Unmarshal(raw, &q); err != nil || !q.Available {
		return fields{}, false
	}
	f := fields{
		price:         &q.CurrentPrice,
		open:          &q.Open,
		high:          &q.High,
		low:           &q.Low,
		previousClose: &q.PreviousClose,
		changePercent: &q.ChangePercent24h,
		volume:        &q.Volume,
	}
	// fields the original provider lacked stay missing
	for _, name := range q.Missing {
		switch name {
		case "open":
			f.open = nil
		case "high":
			f.high = nil
		case "low":
			f.low = nil
		case "previous_close":
			f.previousClose = nil
		case "change_percent_24h":
			f.changePercent = nil
		case "volume":
			f.volume = nil
		}
	}
	if !q.AsOf.IsZero() {
		f.asOf = &q.AsOf
	}
	return f, true
}
