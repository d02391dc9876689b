// Package valuation prices positions against quotes and rolls them up into
// portfolio totals and allocation.
//
// All functions are pure and safe for concurrent use as long as callers do
// not share the input slices while mutating them.
package valuation

import (
	"github.com/shopspring/decimal"
	"github.com/trogers1052/portfolio-tracker/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Value computes the metrics of a position against its quote. An unavailable
// quote is replaced by the purchase price so the position reads flat instead
// of as a total loss.
func Value(p *models.Position, q models.Quote) models.PositionMetrics {
	price := q.CurrentPrice
	fallback := !q.HasPrice()
	if fallback {
		price = p.PurchasePrice
	}

	invested := p.Quantity.Mul(p.PurchasePrice)
	current := p.Quantity.Mul(price)
	gain := current.Sub(invested)

	m := models.PositionMetrics{
		PositionID:    p.ID,
		Symbol:        p.Symbol,
		AssetType:     p.AssetType,
		Quantity:      p.Quantity,
		PurchasePrice: p.PurchasePrice,
		CurrentPrice:  price,
		TotalInvested: invested,
		CurrentValue:  current,
		GainLoss:      gain,
		PriceFallback: fallback,
	}
	if !invested.IsZero() {
		pct := gain.Div(invested).Mul(hundred)
		m.GainLossPercentage = &pct
	}
	return m
}

// ValueAll values every position using the quote keyed by its symbol.
// Positions without an entry in quotes use the unavailable fallback.
func ValueAll(positions []*models.Position, quotes map[string]models.Quote) []models.PositionMetrics {
	out := make([]models.PositionMetrics, 0, len(positions))
	for _, p := range positions {
		q, ok := quotes[QuoteKey(p.AssetType, p.Symbol)]
		if !ok {
			q = models.Quote{Symbol: p.Symbol, AssetType: p.AssetType}
		}
		out = append(out, Value(p, q))
	}
	return out
}

// QuoteKey is the map key used to pair positions with quotes
func QuoteKey(assetType models.AssetType, symbol string) string {
	return string(assetType) + ":" + symbol
}

// Aggregate sums position metrics into portfolio totals and per-asset
// allocation. Positions of the same symbol and asset type share one
// allocation entry, ordered by first appearance. When the total value is
// zero every percentage is reported as 0.
func Aggregate(metrics []models.PositionMetrics) (models.PortfolioSummary, []models.AllocationEntry) {
	summary := models.PortfolioSummary{PositionCount: len(metrics)}

	index := make(map[string]int)
	allocation := make([]models.AllocationEntry, 0, len(metrics))

	for _, m := range metrics {
		summary.TotalValue = summary.TotalValue.Add(m.CurrentValue)
		summary.TotalInvested = summary.TotalInvested.Add(m.TotalInvested)

		key := QuoteKey(m.AssetType, m.Symbol)
		i, ok := index[key]
		if !ok {
			i = len(allocation)
			index[key] = i
			allocation = append(allocation, models.AllocationEntry{
				Symbol:    m.Symbol,
				AssetType: m.AssetType,
			})
		}
		allocation[i].Value = allocation[i].Value.Add(m.CurrentValue)
	}

	summary.TotalGainLoss = summary.TotalValue.Sub(summary.TotalInvested)
	if !summary.TotalValue.IsZero() && !summary.TotalInvested.IsZero() {
		summary.TotalGainLossPercentage = summary.TotalGainLoss.Div(summary.TotalInvested).Mul(hundred)
	}

	for i := range allocation {
		if summary.TotalValue.IsZero() {
			allocation[i].Percentage = decimal.Zero
			continue
		}
		allocation[i].Percentage = allocation[i].Value.Div(summary.TotalValue).Mul(hundred)
	}

	return summary, allocation
}
