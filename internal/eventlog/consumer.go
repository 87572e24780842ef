package eventlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
)

// ConsumedEventStore records delivered events for idempotency. Implemented
// by repository.EventRepository over the data_platform_events table.
type ConsumedEventStore interface {
	RecordConsumed(ctx context.Context, entityID int64, eventType string, payload []byte) (bool, error)
}

// envelope is the minimal shape shared by the event payloads. Order events
// carry order_id, coupon notifications carry user_coupon_id.
type envelope struct {
	OrderID      int64 `json:"order_id"`
	UserCouponID int64 `json:"user_coupon_id"`
}

// Consumer is the downstream side of the at-least-once contract: it reads
// the event topics and records each (entity_id, event_type) pair once.
// Redelivered events hit the unique constraint and are dropped.
type Consumer struct {
	client *kgo.Client
	store  ConsumedEventStore
	topics []string
}

// NewConsumer creates a Consumer in the given consumer group.
func NewConsumer(brokers, topics []string, group string, store ConsumedEventStore) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumerGroup(group),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create event log consumer: %w", err)
	}
	return &Consumer{client: client, store: store, topics: topics}, nil
}

// Run polls and records events until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	log.Info().Strs("topics", c.topics).Msg("event log consumer started")
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			log.Info().Strs("topics", c.topics).Msg("event log consumer stopped")
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			log.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("event log fetch error")
		})

		var processed []*kgo.Record
		fetches.EachRecord(func(record *kgo.Record) {
			if err := c.handle(ctx, record); err != nil {
				log.Error().Err(err).Str("topic", record.Topic).Int64("offset", record.Offset).Msg("event processing failed, will be redelivered")
				return
			}
			processed = append(processed, record)
		})

		if len(processed) > 0 {
			if err := c.client.CommitRecords(ctx, processed...); err != nil {
				log.Error().Err(err).Msg("commit event log offsets failed")
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, record *kgo.Record) error {
	var env envelope
	if err := json.Unmarshal(record.Value, &env); err != nil {
		// Malformed events cannot be reprocessed; record the failure and
		// move on rather than wedging the partition.
		log.Error().Err(err).Str("key", string(record.Key)).Msg("dropping malformed event")
		return nil
	}

	eventType := eventTypeOf(record)
	entityID := env.OrderID
	if eventType == model.MessageCouponIssued {
		// Coupon notifications have no order; the grant id is what makes
		// one delivery distinct from the next user's.
		entityID = env.UserCouponID
	}
	inserted, err := c.store.RecordConsumed(ctx, entityID, eventType, record.Value)
	if err != nil {
		return err
	}
	if !inserted {
		log.Debug().
			Int64("entity_id", entityID).
			Str("event_type", eventType).
			Msg("duplicate delivery dropped")
	}
	return nil
}

// eventTypeOf reads the event_type header the producer stamps on every
// record. Records written before the header existed fall back to shape
// inference: cancelled events carry a cancelled_at field, completed ones
// do not.
func eventTypeOf(record *kgo.Record) string {
	for _, h := range record.Headers {
		if h.Key == eventTypeHeader && len(h.Value) > 0 {
			return string(h.Value)
		}
	}
	var legacy struct {
		CancelledAt *string `json:"cancelled_at"`
	}
	if err := json.Unmarshal(record.Value, &legacy); err == nil && legacy.CancelledAt != nil {
		return model.MessageOrderCancelled
	}
	return model.MessageOrderCompleted
}

// Close releases the underlying client.
func (c *Consumer) Close() {
	c.client.Close()
}
