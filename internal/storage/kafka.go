package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"mhw-backend/internal/models"
)

// KafkaConfig holds the tick record topic settings
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// KafkaSink publishes tick records keyed by run id
type KafkaSink struct {
	writer  *kafka.Writer
	timeout time.Duration
}

// NewKafkaSink creates a writer for the tick record topic
func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 || config.Topic == "" {
		return nil, fmt.Errorf("kafka brokers and topic are required")
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 5 * time.Second
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}

	log.Printf("Kafka: Publishing tick records to %s on %v", config.Topic, config.Brokers)
	return &KafkaSink{writer: writer, timeout: config.WriteTimeout}, nil
}

// Append publishes one record
func (k *KafkaSink) Append(ctx context.Context, rec *models.TickRecord) error {
	msg, err := recordMessage(rec)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	if err := k.writer.WriteMessages(wctx, msg); err != nil {
		return fmt.Errorf("failed to write tick record to kafka: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer
func (k *KafkaSink) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}

// recordMessage encodes a record keyed by run id so a run stays in one partition
func recordMessage(rec *models.TickRecord) (kafka.Message, error) {
	value, err := json.Marshal(rec)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal tick record: %w", err)
	}
	return kafka.Message{
		Key:   []byte(rec.RunID),
		Value: value,
		Time:  rec.Timestamp,
		Headers: []kafka.Header{
			{Key: "phase", Value: []byte(rec.Phase)},
		},
	}, nil
}
