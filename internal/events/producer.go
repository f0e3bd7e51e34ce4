// Package events publishes regime events for the external decision layer.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"uptrend-engine/internal/regime"
)

// Event types.
const (
	EventTransition = "REGIME_TRANSITION"
	EventFlags      = "REGIME_FLAGS"
)

// Event is one message on the regime topic.
type Event struct {
	EventType string          `json:"event_type"`
	RegimeKey string          `json:"regime_key"`
	Exchange  string          `json:"exchange"`
	Token     string          `json:"token"`
	TF        int             `json:"tf"`
	From      regime.State    `json:"from"`
	To        regime.State    `json:"to"`
	Flags     []string        `json:"flags,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// FromPayload builds the event for a payload and its encoded form. ok is
// false when the payload neither changed state nor raised a flag.
func FromPayload(regimeKey string, p *regime.Payload, payloadJSON []byte) (ev Event, ok bool) {
	flags := p.Flags.Raised()
	eventType := EventFlags
	switch {
	case p.Transitioned():
		eventType = EventTransition
	case len(flags) == 0:
		return Event{}, false
	}
	return Event{
		EventType: eventType,
		RegimeKey: regimeKey,
		Exchange:  p.Exchange,
		Token:     p.Token,
		TF:        p.TF,
		From:      p.PrevState,
		To:        p.State,
		Flags:     flags,
		Timestamp: p.Timestamp,
		Payload:   payloadJSON,
	}, true
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles publishing regime events to Kafka.
type Producer struct {
	writer messageWriter
	topic  string
}

// NewProducer creates a new Kafka producer.
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}
	log.Info().Str("component", "events").Strs("brokers", brokers).Str("topic", topic).Msg("kafka producer ready")

	return &Producer{
		writer: writer,
		topic:  topic,
	}
}

// PublishEvent encodes and publishes ev keyed by its regime key.
func (p *Producer) PublishEvent(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.Publish(ctx, ev.RegimeKey, data)
}

// Publish writes a raw message. Messages of one key share a partition.
func (p *Producer) Publish(ctx context.Context, key string, payload []byte) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	return nil
}

// Close closes the Kafka producer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Nop discards events. It is used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) error { return nil }
func (Nop) Close() error                                  { return nil }
