// Package events publishes budget domain events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/warp/budget-engine/budget"
)

// Writer is the subset of kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer writes events as JSON, keyed by budget or addendum name so
// events of one document stay ordered within a partition.
type KafkaProducer struct {
	writer Writer
	log    *zap.SugaredLogger
}

var _ budget.Publisher = (*KafkaProducer)(nil)

func NewKafkaProducer(brokers []string, topic string, log *zap.SugaredLogger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return NewKafkaProducerWithWriter(w, log)
}

// NewKafkaProducerWithWriter allows injecting a test writer.
func NewKafkaProducerWithWriter(w Writer, log *zap.SugaredLogger) *KafkaProducer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &KafkaProducer{writer: w, log: log}
}

func (p *KafkaProducer) Publish(ctx context.Context, key string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{Key: []byte(key), Value: b}
	if ev, ok := value.(budget.Event); ok {
		msg.Headers = []kafka.Header{{Key: "type", Value: []byte(ev.Type)}}
		msg.Time = ev.CreatedAt
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Errorw("kafka write failed", "key", key, "error", err)
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// Log publishes events to the logger only, for deployments without Kafka.
type Log struct {
	log *zap.SugaredLogger
}

func NewLog(log *zap.SugaredLogger) *Log { return &Log{log: log} }

func (l *Log) Publish(_ context.Context, key string, value interface{}) error {
	l.log.Debugw("event", "key", key, "event", value)
	return nil
}

func (l *Log) Close() error { return nil }
