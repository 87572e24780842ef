package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
	"github.com/fairyhunter13/scalable-order-system/pkg/database"
)

// OutboxRepository provides data access for the transactional outbox.
type OutboxRepository struct {
	pool PoolInterface
}

// NewOutboxRepository creates a new OutboxRepository with the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// NewOutboxRepositoryWithPool creates an OutboxRepository with a custom
// pool interface. This is primarily used for testing.
func NewOutboxRepositoryWithPool(pool PoolInterface) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

const outboxColumns = `message_id, order_id, user_id, message_type, payload, status, retry_count, last_attempt, sent_at, created_at`

// Save inserts a PENDING outbox row. Must be callable within the same DB
// transaction as the business rows the message describes.
func (r *OutboxRepository) Save(ctx context.Context, tx database.TxQuerier, msg *model.OutboxMessage) error {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	msg.Status = model.OutboxPending

	query := `INSERT INTO outbox (message_id, order_id, user_id, message_type, payload, status)
	          VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := tx.Exec(ctx, query,
		msg.MessageID, msg.OrderID, msg.UserID, msg.MessageType, msg.Payload, msg.Status,
	)
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

// ClaimPending atomically transitions up to batchSize claimable rows to
// PUBLISHING and returns them. Claimable is PENDING, or PUBLISHING with a
// last_attempt older than staleAfter: a dispatcher that dies between
// claiming and marking leaves rows stuck in PUBLISHING, and reclaiming
// them once the lease expires is what keeps delivery at-least-once. FOR
// UPDATE SKIP LOCKED makes the claim safe against a second dispatcher
// instance: two claimers never see the same row.
func (r *OutboxRepository) ClaimPending(ctx context.Context, batchSize int, staleAfter time.Duration) ([]model.OutboxMessage, error) {
	query := `UPDATE outbox SET status = $1, last_attempt = now()
	          WHERE message_id IN (
	              SELECT message_id FROM outbox
	              WHERE status = $2
	                 OR (status = $1 AND last_attempt < now() - make_interval(secs => $3))
	              ORDER BY created_at
	              LIMIT $4
	              FOR UPDATE SKIP LOCKED
	          )
	          RETURNING ` + outboxColumns

	rows, err := r.pool.Query(ctx, query, model.OutboxPublishing, model.OutboxPending, staleAfter.Seconds(), batchSize)
	if err != nil {
		return nil, fmt.Errorf("claim pending outbox rows: %w", err)
	}
	defer rows.Close()

	var msgs []model.OutboxMessage
	for rows.Next() {
		var m model.OutboxMessage
		if err := rows.Scan(
			&m.MessageID, &m.OrderID, &m.UserID, &m.MessageType, &m.Payload,
			&m.Status, &m.RetryCount, &m.LastAttempt, &m.SentAt, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return msgs, nil
}

// MarkPublished finalizes a successfully published row.
func (r *OutboxRepository) MarkPublished(ctx context.Context, messageID string, sentAt time.Time) error {
	query := `UPDATE outbox SET status = $1, sent_at = $2 WHERE message_id = $3`

	if _, err := r.pool.Exec(ctx, query, model.OutboxPublished, sentAt, messageID); err != nil {
		return fmt.Errorf("mark outbox %s published: %w", messageID, err)
	}
	return nil
}

// MarkRetry returns a PUBLISHING row to PENDING with an incremented retry
// count, or parks it as ABANDONED once the retry budget is spent. Returns
// the status the row ended in.
func (r *OutboxRepository) MarkRetry(ctx context.Context, messageID string, maxRetries int) (model.OutboxStatus, error) {
	query := `UPDATE outbox
	          SET status = CASE WHEN retry_count + 1 >= $1 THEN $2::text ELSE $3::text END,
	              retry_count = retry_count + 1,
	              last_attempt = now()
	          WHERE message_id = $4
	          RETURNING status`

	var status model.OutboxStatus
	err := r.pool.QueryRow(ctx, query, maxRetries, model.OutboxAbandoned, model.OutboxPending, messageID).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("mark outbox %s for retry: %w", messageID, err)
	}
	return status, nil
}

// MarkFailed parks a row whose publish error is non-retryable.
func (r *OutboxRepository) MarkFailed(ctx context.Context, messageID string) error {
	query := `UPDATE outbox SET status = $1, last_attempt = now() WHERE message_id = $2`

	if _, err := r.pool.Exec(ctx, query, model.OutboxFailed, messageID); err != nil {
		return fmt.Errorf("mark outbox %s failed: %w", messageID, err)
	}
	return nil
}
