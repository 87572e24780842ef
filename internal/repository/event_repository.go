package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventRepository records events consumed from the event topics. The
// unique (entity_id, event_type) pair is the consumer-side idempotency
// guard for at-least-once delivery: the entity id is the order id for
// order events and the user coupon id for coupon notifications.
type EventRepository struct {
	pool PoolInterface
}

// NewEventRepository creates a new EventRepository with the given pool.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// NewEventRepositoryWithPool creates an EventRepository with a custom pool
// interface. This is primarily used for testing.
func NewEventRepositoryWithPool(pool PoolInterface) *EventRepository {
	return &EventRepository{pool: pool}
}

// RecordConsumed inserts the (entity_id, event_type) pair. Returns false
// when the pair was already recorded, meaning this delivery is a duplicate
// and must be dropped without reprocessing.
func (r *EventRepository) RecordConsumed(ctx context.Context, entityID int64, eventType string, payload []byte) (bool, error) {
	query := `INSERT INTO data_platform_events (entity_id, event_type, payload)
	          VALUES ($1, $2, $3)
	          ON CONFLICT (entity_id, event_type) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query, entityID, eventType, payload)
	if err != nil {
		return false, fmt.Errorf("record consumed event (%d, %s): %w", entityID, eventType, err)
	}
	return tag.RowsAffected() == 1, nil
}
