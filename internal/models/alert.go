package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertDirection is the side of the threshold that triggers an alert
type AlertDirection string

const (
	DirectionAbove AlertDirection = "ABOVE"
	DirectionBelow AlertDirection = "BELOW"
)

// PriceAlert is a user-defined threshold on one of their positions.
// Active flips to false exactly once, when the alert triggers.
type PriceAlert struct {
	ID             int             `json:"id"`
	PositionID     int             `json:"position_id"`
	UserID         string          `json:"user_id"`
	Symbol         string          `json:"symbol"`
	AssetType      AssetType       `json:"asset_type"`
	Direction      AlertDirection  `json:"direction"`
	ThresholdPrice decimal.Decimal `json:"threshold_price"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
	TriggeredAt    *time.Time      `json:"triggered_at,omitempty"`
}

// PriceTick is a single live price observation. An empty AssetType matches
// alerts of every asset type on the symbol.
type PriceTick struct {
	Symbol    string          `json:"symbol"`
	AssetType AssetType       `json:"asset_type,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source,omitempty"`
}

// TriggeredAlert is the notification record emitted when an alert fires
type TriggeredAlert struct {
	EventID         string          `json:"event_id"`
	AlertID         int             `json:"alert_id"`
	PositionID      int             `json:"position_id"`
	UserID          string          `json:"user_id"`
	Symbol          string          `json:"symbol"`
	AssetType       AssetType       `json:"asset_type"`
	Direction       AlertDirection  `json:"direction"`
	Threshold       decimal.Decimal `json:"threshold"`
	TriggeringPrice decimal.Decimal `json:"triggering_price"`
	Timestamp       time.Time       `json:"timestamp"`
}

// TickEvent represents a Kafka message with one or more price ticks
type TickEvent struct {
	EventType string      `json:"event_type"`
	Source    string      `json:"source"`
	Timestamp string      `json:"timestamp"`
	Tick      *PriceTick  `json:"tick,omitempty"`
	Ticks     []PriceTick `json:"ticks,omitempty"`
}

// AlertEvent is published to Kafka when an alert fires
type AlertEvent struct {
	EventType string         `json:"event_type"`
	Alert     TriggeredAlert `json:"alert"`
	Timestamp time.Time      `json:"timestamp"`
}
