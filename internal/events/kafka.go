package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaPublisher writes events asynchronously to a Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

// NewKafkaPublisher creates an async writer; delivery failures are logged.
func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	p := &KafkaPublisher{log: log}
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  true,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				p.log.Warn("kafka: event delivery failed", zap.Int("messages", len(messages)), zap.Error(err))
			}
		},
	}
	return p
}

// Publish queues ev keyed by bridge id. It never blocks on the brokers; failures are logged.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) {
	msg, err := encodeEvent(ev)
	if err != nil {
		p.log.Warn("kafka: marshal event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warn("kafka: enqueue event", zap.String("type", ev.Type), zap.String("bridge_id", ev.BridgeID), zap.Error(err))
	}
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// encodeEvent builds the message for ev: the bridge id is the key, so one bridge's events
// stay on one partition in order.
func encodeEvent(ev Event) (kafka.Message, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Key: []byte(ev.BridgeID), Value: payload, Time: ev.Timestamp}, nil
}
