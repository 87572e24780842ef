// Package outbox drains the transactional outbox to the external event log.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
)

// ErrNonRetryable marks a publish failure that no retry can fix (malformed
// payload, topic rejected permanently). The dispatcher parks such rows as
// FAILED instead of re-queueing them.
var ErrNonRetryable = errors.New("non-retryable publish error")

// Store is the outbox data access surface the dispatcher depends on.
// ClaimPending takes PENDING rows plus PUBLISHING rows whose claim is
// older than staleAfter, so rows orphaned by a crash mid-publish come back.
type Store interface {
	ClaimPending(ctx context.Context, batchSize int, staleAfter time.Duration) ([]model.OutboxMessage, error)
	MarkPublished(ctx context.Context, messageID string, sentAt time.Time) error
	MarkRetry(ctx context.Context, messageID string, maxRetries int) (model.OutboxStatus, error)
	MarkFailed(ctx context.Context, messageID string) error
}

// Publisher delivers one outbox message to the event log.
type Publisher interface {
	Publish(ctx context.Context, msg *model.OutboxMessage) error
}

// Config tunes the dispatcher loop. ClaimLease is how long a claimed row
// stays off-limits before another claim may reclaim it; it must comfortably
// exceed the publish timeout or a slow broker ack gets double-sent.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
	ClaimLease   time.Duration
}

// Dispatcher is the single long-lived worker that publishes claimable
// outbox rows. It wakes on a timer or on an after-commit trigger from the
// order saga, claims a batch (atomically flipping rows to PUBLISHING),
// publishes each row, and marks the outcome. Publish failures never propagate to the
// caller; the state machine absorbs them.
type Dispatcher struct {
	store     Store
	publisher Publisher
	cfg       Config
	wake      chan struct{}
	now       func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(store Store, publisher Publisher, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		wake:      make(chan struct{}, 1),
		now:       time.Now,
	}
}

// Wake nudges the dispatcher without blocking. Safe to call from any
// goroutine, including inside after-commit hooks.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drives the dispatcher loop until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	log.Info().
		Dur("poll_interval", d.cfg.PollInterval).
		Int("batch_size", d.cfg.BatchSize).
		Msg("outbox dispatcher started")

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox dispatcher stopped")
			return
		case <-d.wake:
		case <-ticker.C:
		}
		d.Drain(ctx)
	}
}

// Drain claims and publishes batches until the outbox has no PENDING rows
// or ctx is cancelled.
func (d *Dispatcher) Drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := d.store.ClaimPending(ctx, d.cfg.BatchSize, d.cfg.ClaimLease)
		if err != nil {
			log.Error().Err(err).Msg("failed to claim pending outbox rows")
			return
		}
		if len(msgs) == 0 {
			return
		}
		for i := range msgs {
			d.dispatch(ctx, &msgs[i])
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, msg *model.OutboxMessage) {
	err := d.publisher.Publish(ctx, msg)
	if err == nil {
		if markErr := d.store.MarkPublished(ctx, msg.MessageID, d.now().UTC()); markErr != nil {
			// The message went out but the row still says PUBLISHING; once
			// the claim lease expires a later cycle reclaims and re-sends
			// it. At-least-once holds, the downstream idempotency table
			// drops the duplicate.
			log.Error().Err(markErr).Str("message_id", msg.MessageID).Msg("failed to mark outbox row published")
		}
		return
	}

	if errors.Is(err, ErrNonRetryable) {
		log.Error().
			Err(err).
			Str("message_id", msg.MessageID).
			Str("message_type", msg.MessageType).
			Int64("order_id", msg.OrderID).
			Msg("outbox publish failed permanently")
		if markErr := d.store.MarkFailed(ctx, msg.MessageID); markErr != nil {
			log.Error().Err(markErr).Str("message_id", msg.MessageID).Msg("failed to mark outbox row failed")
		}
		return
	}

	status, markErr := d.store.MarkRetry(ctx, msg.MessageID, d.cfg.MaxRetries)
	if markErr != nil {
		log.Error().Err(markErr).Str("message_id", msg.MessageID).Msg("failed to mark outbox row for retry")
		return
	}
	event := log.Warn()
	if status == model.OutboxAbandoned {
		event = log.Error()
	}
	event.
		Err(err).
		Str("message_id", msg.MessageID).
		Str("message_type", msg.MessageType).
		Int64("order_id", msg.OrderID).
		Str("status", string(status)).
		Msg("outbox publish failed")
}
