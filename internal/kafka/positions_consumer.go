package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/portfolio-tracker/internal/models"
	"github.com/trogers1052/portfolio-tracker/internal/portfolio"
	"go.uber.org/zap"
)

// EventPositionsSnapshot is the only event type the positions consumer acts on
const EventPositionsSnapshot = "POSITIONS_SNAPSHOT"

// PositionsReplacer defines the operation used to apply a snapshot
type PositionsReplacer interface {
	ReplacePositions(ctx context.Context, userID string, inputs []portfolio.PositionInput) ([]*models.Position, error)
}

// PositionsConsumer handles consuming position snapshot events from Kafka
type PositionsConsumer struct {
	reader messageReader
	repo   PositionsReplacer
	logger *zap.Logger
}

// NewPositionsConsumer creates a new Kafka consumer for position events
func NewPositionsConsumer(brokers []string, topic, groupID string, repo PositionsReplacer, logger *zap.Logger) *PositionsConsumer {
	return &PositionsConsumer{
		reader: newReader(brokers, topic, groupID+"-positions", kafka.LastOffset),
		repo:   repo,
		logger: logger,
	}
}

// Start begins consuming messages from Kafka
func (c *PositionsConsumer) Start(ctx context.Context) error {
	return consume(ctx, c.reader, c.logger, c.processMessage)
}

// processMessage handles a single Kafka message
func (c *PositionsConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var event models.PositionsEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal positions event: %w", err)
	}

	if event.EventType != EventPositionsSnapshot {
		c.logger.Debug("Ignoring event type", zap.String("event_type", event.EventType))
		return nil
	}
	userID := strings.TrimSpace(event.Data.UserID)
	if userID == "" {
		return fmt.Errorf("positions snapshot without user_id")
	}

	now := time.Now()
	inputs := make([]portfolio.PositionInput, 0, len(event.Data.Positions))
	for _, pd := range event.Data.Positions {
		in, err := convertPositionData(pd, now)
		if err != nil {
			c.logger.Warn("Skipping position in snapshot",
				zap.String("user_id", userID),
				zap.String("symbol", pd.Symbol),
				zap.Error(err))
			continue
		}
		inputs = append(inputs, in)
	}

	positions, err := c.repo.ReplacePositions(ctx, userID, inputs)
	if err != nil {
		return fmt.Errorf("failed to replace positions: %w", err)
	}

	c.logger.Info("Applied positions snapshot",
		zap.String("user_id", userID),
		zap.Int("positions", len(positions)))
	return nil
}

// convertPositionData converts Kafka position data to a position input.
// Holdings with non-positive amounts are rejected here so that one bad row
// does not discard the rest of the snapshot.
func convertPositionData(pd models.PositionData, now time.Time) (portfolio.PositionInput, error) {
	quantity, err := decimal.NewFromString(pd.Quantity)
	if err != nil {
		return portfolio.PositionInput{}, fmt.Errorf("invalid quantity %s: %w", pd.Quantity, err)
	}
	if !quantity.IsPositive() {
		return portfolio.PositionInput{}, fmt.Errorf("quantity must be positive, got %s", pd.Quantity)
	}

	price, err := decimal.NewFromString(pd.PurchasePrice)
	if err != nil {
		return portfolio.PositionInput{}, fmt.Errorf("invalid purchase_price %s: %w", pd.PurchasePrice, err)
	}
	if !price.IsPositive() {
		return portfolio.PositionInput{}, fmt.Errorf("purchase_price must be positive, got %s", pd.PurchasePrice)
	}

	assetType := models.AssetType(strings.ToUpper(strings.TrimSpace(pd.AssetType)))
	if assetType == "" {
		assetType = models.AssetStock
	}
	if !assetType.Valid() {
		return portfolio.PositionInput{}, fmt.Errorf("unknown asset_type %q", pd.AssetType)
	}

	return portfolio.PositionInput{
		Symbol:        pd.Symbol,
		AssetType:     assetType,
		Quantity:      quantity,
		PurchasePrice: price,
		PurchaseDate:  parseDate(pd.PurchaseDate, now),
		Notes:         pd.Notes,
	}, nil
}

// parseDate accepts RFC3339 or a bare date; anything else, or a future date, becomes now
func parseDate(s string, now time.Time) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			if t.After(now) {
				return now
			}
			return t
		}
	}
	return now
}

// Close closes the Kafka consumer
func (c *PositionsConsumer) Close() error {
	return c.reader.Close()
}
