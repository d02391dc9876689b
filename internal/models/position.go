package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetType classifies a holding for market-data routing
type AssetType string

const (
	AssetCrypto AssetType = "CRYPTO"
	AssetStock  AssetType = "STOCK"
)

// Valid reports whether t is a known asset type
func (t AssetType) Valid() bool {
	return t == AssetCrypto || t == AssetStock
}

// Portfolio is the single container of positions owned by a user
type Portfolio struct {
	ID        int         `json:"id"`
	UserID    string      `json:"user_id"`
	Positions []*Position `json:"positions,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Position represents a single held asset lot
type Position struct {
	ID            int             `json:"id"`
	PortfolioID   int             `json:"portfolio_id"`
	Symbol        string          `json:"symbol"`
	AssetType     AssetType       `json:"asset_type"`
	Quantity      decimal.Decimal `json:"quantity"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	PurchaseDate  time.Time       `json:"purchase_date"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// PositionsEvent represents a Kafka message carrying a user's position snapshot
type PositionsEvent struct {
	EventType string             `json:"event_type"`
	Source    string             `json:"source"`
	Timestamp string             `json:"timestamp"`
	Data      PositionsEventData `json:"data"`
}

// PositionsEventData contains the owner and the holdings of a snapshot
type PositionsEventData struct {
	UserID    string         `json:"user_id"`
	Positions []PositionData `json:"positions"`
}

// PositionData represents a single holding in a snapshot. Numbers arrive as
// strings so that no precision is lost before they become decimals.
type PositionData struct {
	Symbol        string `json:"symbol"`
	AssetType     string `json:"asset_type"`
	Quantity      string `json:"quantity"`
	PurchasePrice string `json:"purchase_price"`
	PurchaseDate  string `json:"purchase_date"`
	Notes         string `json:"notes"`
}
