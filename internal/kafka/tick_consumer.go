package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/trogers1052/portfolio-tracker/internal/models"
	"go.uber.org/zap"
)

// Tick event types
const (
	EventPriceTick  = "PRICE_TICK"
	EventPriceTicks = "PRICE_TICKS"
)

// TickHandler evaluates price ticks against armed alerts
type TickHandler interface {
	HandleTicks(ctx context.Context, ticks []models.PriceTick) ([]models.TriggeredAlert, error)
}

// PriceTickConsumer feeds live price ticks from Kafka into the alert service
type PriceTickConsumer struct {
	reader  messageReader
	handler TickHandler
	logger  *zap.Logger
}

// NewPriceTickConsumer creates a new Kafka consumer for price tick events
func NewPriceTickConsumer(brokers []string, topic, groupID string, handler TickHandler, logger *zap.Logger) *PriceTickConsumer {
	return &PriceTickConsumer{
		// only live prices matter; history would replay stale crossings
		reader:  newReader(brokers, topic, groupID+"-ticks", kafka.LastOffset),
		handler: handler,
		logger:  logger,
	}
}

// Start begins consuming messages from Kafka
func (c *PriceTickConsumer) Start(ctx context.Context) error {
	return consume(ctx, c.reader, c.logger, c.processMessage)
}

// processMessage handles a single Kafka message
func (c *PriceTickConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var event models.TickEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal tick event: %w", err)
	}

	var ticks []models.PriceTick
	switch event.EventType {
	case EventPriceTick:
		if event.Tick != nil {
			ticks = append(ticks, *event.Tick)
		}
	case EventPriceTicks:
		ticks = event.Ticks
	default:
		c.logger.Debug("Ignoring event type", zap.String("event_type", event.EventType))
		return nil
	}

	valid := make([]models.PriceTick, 0, len(ticks))
	for _, t := range ticks {
		t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
		t.AssetType = models.AssetType(strings.ToUpper(strings.TrimSpace(string(t.AssetType))))
		if t.Symbol == "" || !t.Price.IsPositive() || (t.AssetType != "" && !t.AssetType.Valid()) {
			c.logger.Warn("Dropping invalid price tick",
				zap.String("symbol", t.Symbol),
				zap.String("asset_type", string(t.AssetType)),
				zap.String("price", t.Price.String()),
				zap.Int64("offset", msg.Offset))
			continue
		}
		if t.Source == "" {
			t.Source = eventSource(event.Source)
		}
		if t.Timestamp.IsZero() {
			t.Timestamp = eventTime(event.Timestamp)
		}
		valid = append(valid, t)
	}
	if len(valid) == 0 {
		return nil
	}

	triggered, err := c.handler.HandleTicks(ctx, valid)
	if err != nil {
		return fmt.Errorf("failed to handle %d ticks: %w", len(valid), err)
	}
	if len(triggered) > 0 {
		c.logger.Info("Alerts triggered from tick stream",
			zap.Int("ticks", len(valid)),
			zap.Int("triggered", len(triggered)))
	}
	return nil
}

func eventSource(s string) string {
	if s == "" {
		return "kafka"
	}
	return s
}

// eventTime parses the envelope timestamp; zero means the handler stamps it
func eventTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Close closes the Kafka consumer
func (c *PriceTickConsumer) Close() error {
	return c.reader.Close()
}
