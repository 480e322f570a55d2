// Package stream publishes federation events onto a kafka topic, so
// timelines, search indexers and other consumers can follow along
// without polling the database.
package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gomphos/gomphos/util"
	"github.com/segmentio/kafka-go"
)

// Event is the wire form of one federation event.
type Event struct {
	Type      string      `json:"type"`
	Key       string      `json:"key"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher writes events to kafka. A nil Publisher is a valid no-op,
// streaming is optional.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(conf *util.AppConfig) *Publisher {
	brokers := conf.KafkaBrokerList()
	if len(brokers) == 0 {
		return nil
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        conf.Conf.KafkaTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		},
	}
}

// Publish emits one event, keyed so all events about the same subject
// land in the same partition.
func (p *Publisher) Publish(ctx context.Context, eventType, key string, payload interface{}) error {
	if p == nil || p.writer == nil {
		return nil
	}

	value, err := json.Marshal(Event{
		Type:      eventType,
		Key:       key,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
