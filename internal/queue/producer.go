// Package queue is the partitioned log carrying coupon issuance requests.
//
// Records are keyed by coupon id, so every request for one coupon lands in
// the same partition and is consumed in strict enqueue order, while
// different coupons proceed in parallel across partitions. Keying by user
// id was rejected: it would spread same-coupon contention across
// partitions and break first-come-first-served per coupon.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
)

// Producer appends coupon requests to the request topic and parks
// exhausted ones on the dead-letter topic.
type Producer struct {
	client   *kgo.Client
	topic    string
	dlqTopic string
}

// NewProducer creates a Producer connected to the given brokers.
func NewProducer(brokers []string, topic, dlqTopic string) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create coupon queue producer: %w", err)
	}
	return &Producer{client: client, topic: topic, dlqTopic: dlqTopic}, nil
}

// Enqueue appends a request to the partition owned by its coupon id and
// waits for the broker ack, bounded by ctx.
func (p *Producer) Enqueue(ctx context.Context, req *model.CouponRequest) error {
	return p.produce(ctx, p.topic, req)
}

// Requeue re-appends a transiently failed request to the tail of the same
// partition. The bumped RetryCount rides along in the payload.
func (p *Producer) Requeue(ctx context.Context, req *model.CouponRequest) error {
	return p.produce(ctx, p.topic, req)
}

// DeadLetter moves a retry-exhausted request to the DLQ topic for manual
// inspection.
func (p *Producer) DeadLetter(ctx context.Context, req *model.CouponRequest) error {
	log.Error().
		Str("request_id", req.RequestID).
		Int64("user_id", req.UserID).
		Int64("coupon_id", req.CouponID).
		Int("retry_count", req.RetryCount).
		Msg("coupon request moved to dead-letter topic")
	return p.produce(ctx, p.dlqTopic, req)
}

func (p *Producer) produce(ctx context.Context, topic string, req *model.CouponRequest) error {
	value, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal coupon request: %w", err)
	}
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(strconv.FormatInt(req.CouponID, 10)),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("append coupon request %s: %w", req.RequestID, err)
	}
	return nil
}

// Close flushes and releases the underlying client.
func (p *Producer) Close() {
	p.client.Close()
}
