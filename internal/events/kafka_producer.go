// Package events publishes ride lifecycle events to Kafka so downstream
// consumers (reporting, notification fan-out) can follow state changes
// without reading the registry.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

// Publisher is what the coordinator depends on; the Kafka producer and the
// test fake both satisfy it.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event) error
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

// Publish keys events by ride request so per-ride ordering survives
// partitioning.
func (k *KafkaProducer) Publish(ctx context.Context, ev models.Event) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := ev.RideRequestID
	if key == "" {
		key = ev.BookingID
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// PositionProducer publishes raw driver position reports for the ingest
// worker to fold into the geo index.
type PositionProducer struct {
	writer *kafka.Writer
}

func NewPositionProducer(brokers []string, topic string) *PositionProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &PositionProducer{writer: w}
}

func (k *PositionProducer) PublishPosition(ctx context.Context, p models.DriverPosition) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(p.DriverID), Value: b})
}

func (k *PositionProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
