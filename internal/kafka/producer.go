package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/trogers1052/portfolio-tracker/internal/models"
)

// EventAlertTriggered is the event type written for every fired alert
const EventAlertTriggered = "ALERT_TRIGGERED"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AlertProducer publishes triggered alerts to Kafka, keyed by symbol so
// that alerts for one instrument stay ordered
type AlertProducer struct {
	writer messageWriter
}

// NewAlertProducer creates a producer for the alerts topic
func NewAlertProducer(brokers []string, topic string) *AlertProducer {
	return &AlertProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Notify writes an ALERT_TRIGGERED event
func (p *AlertProducer) Notify(ctx context.Context, alert models.TriggeredAlert) error {
	event := models.AlertEvent{
		EventType: EventAlertTriggered,
		Alert:     alert,
		Timestamp: time.Now().UTC(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(alert.Symbol),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventAlertTriggered)},
			{Key: "event_id", Value: []byte(alert.EventID)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write alert event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer
func (p *AlertProducer) Close() error {
	return p.writer.Close()
}
