package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/gourilakshmianusha/petshoptify/pkg/circuitbreaker"
)

const DefaultTopic = "storefront-orders"

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer  MessageWriter
	breaker *circuitbreaker.Breaker
	log     *slog.Logger
}

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaPublisher(writer MessageWriter, breaker *circuitbreaker.Breaker, log *slog.Logger) *KafkaPublisher {
	if breaker == nil {
		breaker = circuitbreaker.New(circuitbreaker.DefaultConfig("kafka-publisher"), log)
	}
	if log == nil {
		log = slog.Default()
	}
	return &KafkaPublisher{writer: writer, breaker: breaker, log: log}
}

func (p *KafkaPublisher) PublishOrderConfirmed(ctx context.Context, event OrderConfirmedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal order confirmed event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID), // order id keeps one order on one partition
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventTypeOrderConfirmed)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
		Time: time.Now().UTC(),
	}

	err = p.breaker.Do(func() error {
		return p.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to publish order %s: %w", event.OrderID, err)
	}
	p.log.DebugContext(ctx, "order confirmed event published", "order_id", event.OrderID, "event_id", event.EventID)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
