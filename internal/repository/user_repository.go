package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
	"github.com/fairyhunter13/scalable-order-system/internal/service"
	"github.com/fairyhunter13/scalable-order-system/pkg/database"
)

// PoolInterface defines the database operations needed by repositories.
// This allows for easier testing with mocks.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// UserRepository provides data access for users and their wallet balances.
type UserRepository struct {
	pool PoolInterface
}

// NewUserRepository creates a new UserRepository with the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// NewUserRepositoryWithPool creates a UserRepository with a custom pool
// interface. This is primarily used for testing.
func NewUserRepositoryWithPool(pool PoolInterface) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByID retrieves a user by id.
// Returns service.ErrUserNotFound if the user doesn't exist.
func (r *UserRepository) GetByID(ctx context.Context, userID int64) (*model.User, error) {
	query := `SELECT user_id, balance, version, created_at, updated_at FROM users WHERE user_id = $1`

	var u model.User
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&u.UserID, &u.Balance, &u.Version, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user %d: %w", userID, err)
	}
	return &u, nil
}

// GetForUpdate retrieves a user with a row-level exclusive lock
// (SELECT FOR UPDATE). The lock is held until the enclosing transaction
// commits or rolls back.
func (r *UserRepository) GetForUpdate(ctx context.Context, tx database.TxQuerier, userID int64) (*model.User, error) {
	query := `SELECT user_id, balance, version, created_at, updated_at FROM users WHERE user_id = $1 FOR UPDATE`

	var u model.User
	err := tx.QueryRow(ctx, query, userID).Scan(
		&u.UserID, &u.Balance, &u.Version, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user for update %d: %w", userID, err)
	}
	return &u, nil
}

// UpdateBalance writes a new balance and bumps the version. Must be called
// within a transaction after locking the row. The version guard is kept as
// a second line of defense; under the row lock it cannot normally fire.
func (r *UserRepository) UpdateBalance(ctx context.Context, tx database.TxQuerier, userID, balance, expectedVersion int64) error {
	query := `UPDATE users SET balance = $1, version = version + 1, updated_at = now()
	          WHERE user_id = $2 AND version = $3`

	tag, err := tx.Exec(ctx, query, balance, userID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update balance for user %d: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrVersionConflict
	}
	return nil
}
