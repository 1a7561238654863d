// Package kafka publishes pipeline events for downstream consumers.
// The feed is optional: with no brokers configured the daemon runs with a
// no-op publisher and nothing else changes.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

const eventsTopic = "echobot.pipeline.events"

// Event is one pipeline state change, serialized as JSON.
type Event struct {
	Kind     string    `json:"kind"` // block_status | task_status | digest_created | email_sent
	BlockID  int64     `json:"block_id,omitempty"`
	ShowDate string    `json:"show_date,omitempty"`
	Status   string    `json:"status,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher emits pipeline events.
type Publisher interface {
	Publish(ctx context.Context, key string, ev Event) error
	Close() error
}

type publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a Kafka publisher connected to the given brokers.
func NewPublisher(brokers []string) Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{}, // route by key → deterministic partition
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return &publisher{writer: w}
}

func (p *publisher) Publish(ctx context.Context, key string, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Inject the active trace context into message headers so downstream
	// consumers can continue the trace.
	headers := make(HeaderCarrier, 0)
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   eventsTopic,
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header(headers),
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", eventsTopic, err)
	}
	return nil
}

func (p *publisher) Close() error {
	return p.writer.Close()
}

// NopPublisher discards every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
func (NopPublisher) Close() error                                 { return nil }
