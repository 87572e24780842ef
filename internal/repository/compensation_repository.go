package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
)

// CompensationRepository is the durable dead-letter store for failed saga
// compensations. Rows stay PENDING until an operator resolves them.
type CompensationRepository struct {
	pool PoolInterface
}

// NewCompensationRepository creates a new CompensationRepository.
func NewCompensationRepository(pool *pgxpool.Pool) *CompensationRepository {
	return &CompensationRepository{pool: pool}
}

// NewCompensationRepositoryWithPool creates a CompensationRepository with a
// custom pool interface. This is primarily used for testing.
func NewCompensationRepositoryWithPool(pool PoolInterface) *CompensationRepository {
	return &CompensationRepository{pool: pool}
}

// Insert writes a failed-compensation record. Runs on the pool, not inside
// any saga transaction: the record must survive whatever rolled back.
func (r *CompensationRepository) Insert(ctx context.Context, fc *model.FailedCompensation) error {
	query := `INSERT INTO failed_compensations
	          (order_id, user_id, step_name, step_order, error_message, stack_trace, status, context_snapshot)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          RETURNING id, failed_at`

	err := r.pool.QueryRow(ctx, query,
		fc.OrderID, fc.UserID, fc.StepName, fc.StepOrder,
		fc.ErrorMessage, fc.StackTrace, model.CompensationPending, fc.ContextSnapshot,
	).Scan(&fc.ID, &fc.FailedAt)
	if err != nil {
		return fmt.Errorf("insert failed compensation: %w", err)
	}
	fc.Status = model.CompensationPending
	return nil
}

// ListPending returns up to limit unresolved records, oldest first.
func (r *CompensationRepository) ListPending(ctx context.Context, limit int) ([]model.FailedCompensation, error) {
	query := `SELECT id, order_id, user_id, step_name, step_order, error_message, stack_trace, failed_at, retry_count, status, context_snapshot
	          FROM failed_compensations WHERE status = $1 ORDER BY failed_at LIMIT $2`

	rows, err := r.pool.Query(ctx, query, model.CompensationPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending compensations: %w", err)
	}
	defer rows.Close()

	var out []model.FailedCompensation
	for rows.Next() {
		var fc model.FailedCompensation
		if err := rows.Scan(
			&fc.ID, &fc.OrderID, &fc.UserID, &fc.StepName, &fc.StepOrder,
			&fc.ErrorMessage, &fc.StackTrace, &fc.FailedAt, &fc.RetryCount,
			&fc.Status, &fc.ContextSnapshot,
		); err != nil {
			return nil, fmt.Errorf("scan failed compensation: %w", err)
		}
		out = append(out, fc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failed compensations: %w", err)
	}
	return out, nil
}

// MarkResolved closes a record after manual remediation.
func (r *CompensationRepository) MarkResolved(ctx context.Context, id int64) error {
	query := `UPDATE failed_compensations SET status = $1 WHERE id = $2`

	if _, err := r.pool.Exec(ctx, query, model.CompensationResolved, id); err != nil {
		return fmt.Errorf("mark compensation %d resolved: %w", id, err)
	}
	return nil
}
