package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionMetrics is the derived valuation of one position against a quote
type PositionMetrics struct {
	PositionID    int             `json:"position_id"`
	Symbol        string          `json:"symbol"`
	AssetType     AssetType       `json:"asset_type"`
	Quantity      decimal.Decimal `json:"quantity"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	GainLoss      decimal.Decimal `json:"gain_loss"`
	// GainLossPercentage is nil when TotalInvested is zero.
	GainLossPercentage *decimal.Decimal `json:"gain_loss_percentage"`
	PriceFallback      bool             `json:"price_fallback"`
}

// PortfolioSummary holds the portfolio totals
type PortfolioSummary struct {
	TotalValue              decimal.Decimal `json:"total_value"`
	TotalInvested           decimal.Decimal `json:"total_invested"`
	TotalGainLoss           decimal.Decimal `json:"total_gain_loss"`
	TotalGainLossPercentage decimal.Decimal `json:"total_gain_loss_percentage"`
	PositionCount           int             `json:"position_count"`
}

// AllocationEntry is the share of the portfolio value held in one asset
type AllocationEntry struct {
	Symbol     string          `json:"symbol"`
	AssetType  AssetType       `json:"asset_type"`
	Value      decimal.Decimal `json:"value"`
	Percentage decimal.Decimal `json:"percentage"`
}

// PortfolioView is the full valuation returned to API clients
type PortfolioView struct {
	PortfolioID int               `json:"portfolio_id"`
	UserID      string            `json:"user_id"`
	Positions   []PositionMetrics `json:"positions"`
	Summary     PortfolioSummary  `json:"summary"`
	Allocation  []AllocationEntry `json:"allocation"`
	QuotedAt    time.Time         `json:"quoted_at"`
}

// Value-at-risk result states
const (
	VaRStatusOK               = "ok"
	VaRStatusInsufficientData = "insufficient_data"
)

// RiskMetrics is derived from a daily return series
type RiskMetrics struct {
	Volatility        float64  `json:"volatility"`
	SharpeRatio       *float64 `json:"sharpe_ratio"`
	Beta              *float64 `json:"beta"`
	Alpha             *float64 `json:"alpha"`
	ValueAtRisk95     *float64 `json:"value_at_risk_95"`
	ValueAtRiskStatus string   `json:"value_at_risk_status"`
	MaxDrawdown       float64  `json:"max_drawdown"`
	RiskLevel         string   `json:"risk_level"`
	SampleSize        int      `json:"sample_size"`
	RiskFreeRate      float64  `json:"risk_free_rate"`
	Benchmark         string   `json:"benchmark,omitempty"`
}
