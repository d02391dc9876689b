package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/trogers1052/portfolio-tracker/internal/metrics"
	"go.uber.org/zap"
)

// messageReader is the subset of *kafka.Reader the consumers use
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
	Config() kafka.ReaderConfig
}

func newReader(brokers []string, topic, groupID string, startOffset int64) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    startOffset,
		CommitInterval: time.Second,
	})
}

// consume reads messages until ctx is cancelled. Processing errors are
// logged and the loop moves on to the next message.
func consume(ctx context.Context, reader messageReader, logger *zap.Logger, process func(context.Context, kafka.Message) error) error {
	topic := reader.Config().Topic
	logger.Info("Starting Kafka consumer", zap.String("topic", topic))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Kafka consumer shutting down", zap.String("topic", topic))
			return reader.Close()
		default:
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil // Context cancelled, normal shutdown
				}
				logger.Error("Error reading message", zap.String("topic", topic), zap.Error(err))
				continue
			}

			if err := process(ctx, msg); err != nil {
				metrics.KafkaMessages.WithLabelValues(topic, "error").Inc()
				logger.Error("Error processing message",
					zap.String("topic", topic),
					zap.Int("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
				continue
			}
			metrics.KafkaMessages.WithLabelValues(topic, "ok").Inc()
		}
	}
}
