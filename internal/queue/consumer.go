package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
)

// partitionBuffer bounds each partition's in-memory intake. A full buffer
// blocks the poll loop, which pauses fetching and pushes backpressure onto
// the broker instead of growing memory.
const partitionBuffer = 256

// Handler processes one coupon request. It owns the full outcome: status
// writes, retry re-append, dead-lettering. A returned error means the
// record must not be committed and will be redelivered.
type Handler interface {
	Handle(ctx context.Context, req *model.CouponRequest) error
}

// Consumer drains the coupon request topic with one worker goroutine per
// partition. The per-partition fan-out preserves the log's FIFO order for
// each coupon; across partitions there is no ordering guarantee.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	topic   string

	mu      sync.Mutex
	workers map[int32]chan *kgo.Record
	wg      sync.WaitGroup
}

// NewConsumer creates a Consumer in the given consumer group.
func NewConsumer(brokers []string, topic, group string, handler Handler) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumerGroup(group),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create coupon queue consumer: %w", err)
	}
	return &Consumer{
		client:  client,
		handler: handler,
		topic:   topic,
		workers: make(map[int32]chan *kgo.Record),
	}, nil
}

// Run polls the topic and dispatches records to partition workers until
// ctx is cancelled. On shutdown each worker finishes its in-flight request
// to a safe commit boundary; uncommitted records are redelivered by the
// broker, which is the durable re-enqueue.
func (c *Consumer) Run(ctx context.Context) {
	log.Info().Str("topic", c.topic).Msg("coupon queue consumer started")

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			break
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			log.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("coupon queue fetch error")
		})
		fetches.EachRecord(func(record *kgo.Record) {
			select {
			case c.workerFor(ctx, record.Partition) <- record:
			case <-ctx.Done():
			}
		})
	}

	c.mu.Lock()
	for _, ch := range c.workers {
		close(ch)
	}
	c.workers = make(map[int32]chan *kgo.Record)
	c.mu.Unlock()
	c.wg.Wait()

	log.Info().Str("topic", c.topic).Msg("coupon queue consumer stopped")
}

// workerFor returns the partition's intake channel, spawning the worker on
// first use. Each worker is single-threaded with respect to its partition.
func (c *Consumer) workerFor(ctx context.Context, partition int32) chan *kgo.Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.workers[partition]
	if !ok {
		ch = make(chan *kgo.Record, partitionBuffer)
		c.workers[partition] = ch
		c.wg.Add(1)
		go c.work(ctx, partition, ch)
	}
	return ch
}

func (c *Consumer) work(ctx context.Context, partition int32, records <-chan *kgo.Record) {
	defer c.wg.Done()
	log.Info().Int32("partition", partition).Msg("partition worker started")

	for record := range records {
		c.process(ctx, partition, record)
	}

	log.Info().Int32("partition", partition).Msg("partition worker stopped")
}

func (c *Consumer) process(ctx context.Context, partition int32, record *kgo.Record) {
	var req model.CouponRequest
	if err := json.Unmarshal(record.Value, &req); err != nil {
		// A payload that never parses would wedge the partition if left
		// uncommitted. Drop it.
		log.Error().Err(err).Int32("partition", partition).Int64("offset", record.Offset).Msg("dropping malformed coupon request")
		c.commit(ctx, record)
		return
	}

	start := time.Now()
	if err := c.handler.Handle(ctx, &req); err != nil {
		log.Error().
			Err(err).
			Str("request_id", req.RequestID).
			Int32("partition", partition).
			Msg("coupon request handling failed, leaving uncommitted for redelivery")
		return
	}

	log.Debug().
		Str("request_id", req.RequestID).
		Int32("partition", partition).
		Dur("took", time.Since(start)).
		Msg("coupon request processed")
	c.commit(ctx, record)
}

func (c *Consumer) commit(ctx context.Context, record *kgo.Record) {
	if err := c.client.CommitRecords(ctx, record); err != nil {
		log.Error().Err(err).Int64("offset", record.Offset).Msg("commit coupon queue offset failed")
	}
}

// Close releases the underlying client, unblocking Run.
func (c *Consumer) Close() {
	c.client.Close()
}
