package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the canonical point-in-time price snapshot for a symbol.
//
// Available is false when the provider did not return a usable price; callers
// must then treat every price field as "no data".
type Quote struct {
	Symbol           string          `json:"symbol"`
	AssetType        AssetType       `json:"asset_type"`
	Source           string          `json:"source"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	Open             decimal.Decimal `json:"open"`
	High             decimal.Decimal `json:"high"`
	Low              decimal.Decimal `json:"low"`
	PreviousClose    decimal.Decimal `json:"previous_close"`
	ChangePercent24h decimal.Decimal `json:"change_percent_24h"`
	Volume           int64           `json:"volume"`
	AsOf             time.Time       `json:"as_of"`
	Available        bool            `json:"available"`
	Missing          []string        `json:"missing,omitempty"`
}

// UnavailableQuote returns the sentinel quote used when no price is known
func UnavailableQuote(symbol string, assetType AssetType, asOf time.Time) Quote {
	return Quote{
		Symbol:    symbol,
		AssetType: assetType,
		AsOf:      asOf,
		Available: false,
		Missing:   []string{"current_price"},
	}
}

// HasPrice reports whether the quote carries a usable current price
func (q Quote) HasPrice() bool {
	return q.Available && q.CurrentPrice.IsPositive()
}

// SymbolRef identifies an instrument for market-data lookups
type SymbolRef struct {
	Symbol    string    `json:"symbol"`
	AssetType AssetType `json:"asset_type"`
}

// DailyClose is one daily closing price. Date is midnight UTC of the
// trading or calendar day the close belongs to.
type DailyClose struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}
