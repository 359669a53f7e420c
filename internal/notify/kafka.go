package notify

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/campusfix/backend/internal/models"
)

// KafkaPublisher mirrors every notification document onto a topic for push fan-out.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, n models.Notification) error {
	msg, err := encodeMessage(n)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Messages are keyed by recipient so one user's notifications stay ordered.
func encodeMessage(n models.Notification) (kafka.Message, error) {
	value, err := json.Marshal(n)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(n.UserID),
		Value: value,
		Time:  n.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(n.Type)},
		},
	}, nil
}
