// Package eventlog connects the core to the external event log.
//
// Messages are key/value: the key is an entity id as a decimal string, the
// value is UTF-8 JSON. Order events are keyed by order id so every event
// for one order lands in one partition; coupon notifications go to their
// own topic keyed by user id. Every record carries its message type in the
// event_type header, so consumers never have to infer it from the payload.
package eventlog

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
)

// eventTypeHeader names the record header carrying the message type.
const eventTypeHeader = "event_type"

// Producer publishes outbox messages to the order and coupon event topics.
type Producer struct {
	client      *kgo.Client
	orderTopic  string
	couponTopic string
}

// NewProducer creates a Producer connected to the given brokers.
func NewProducer(brokers []string, orderTopic, couponTopic string) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create event log producer: %w", err)
	}
	return &Producer{client: client, orderTopic: orderTopic, couponTopic: couponTopic}, nil
}

// recordFor routes a message to its topic. Coupon notifications have no
// order and are keyed by user id; putting them on the order topic would
// collapse them all onto order id 0.
func (p *Producer) recordFor(msg *model.OutboxMessage) *kgo.Record {
	topic := p.orderTopic
	key := msg.OrderID
	if msg.MessageType == model.MessageCouponIssued {
		topic = p.couponTopic
		key = msg.UserID
	}
	return &kgo.Record{
		Topic:   topic,
		Key:     []byte(strconv.FormatInt(key, 10)),
		Value:   msg.Payload,
		Headers: []kgo.RecordHeader{{Key: eventTypeHeader, Value: []byte(msg.MessageType)}},
	}
}

// Publish sends one outbox message and waits for the broker ack. Errors are
// retryable unless the broker reports the record itself as unacceptable;
// the dispatcher's state machine handles both cases.
func (p *Producer) Publish(ctx context.Context, msg *model.OutboxMessage) error {
	record := p.recordFor(msg)

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", msg.MessageType, record.Topic, err)
	}

	log.Debug().
		Str("message_id", msg.MessageID).
		Str("message_type", msg.MessageType).
		Str("topic", record.Topic).
		Str("key", string(record.Key)).
		Msg("event published")
	return nil
}

// Close flushes and releases the underlying client.
func (p *Producer) Close() {
	p.client.Close()
}
