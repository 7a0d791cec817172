package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/loss-signal-fusion/internal/config"
	"github.com/couchcryptid/loss-signal-fusion/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher produces cluster change events to a Kafka topic.
// It implements fusion.EventPublisher.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured cluster topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaClusterTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// PublishClusterEvents serializes and publishes events in a single
// WriteMessages call. Messages are keyed by cluster ID so every change to one
// cluster lands on the same partition in order.
func (p *Publisher) PublishClusterEvents(ctx context.Context, events []domain.ClusterEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := serializeToMessage(events[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d cluster events: %w", len(msgs), err)
	}
	p.logger.Debug("cluster events published", "count", len(msgs), "topic", p.writer.Topic)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a ClusterEvent into a Kafka message.
func serializeToMessage(event domain.ClusterEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize cluster event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.Cluster.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "action", Value: []byte(event.Action)},
			{Key: "event_type", Value: []byte(event.Cluster.EventType)},
			{Key: "occurred_at", Value: []byte(event.OccurredAt.Format(time.RFC3339))},
		},
	}, nil
}
