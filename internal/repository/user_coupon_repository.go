package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
	"github.com/fairyhunter13/scalable-order-system/internal/service"
	"github.com/fairyhunter13/scalable-order-system/pkg/database"
)

// UserCouponRepository provides data access for issued coupons.
type UserCouponRepository struct {
	pool PoolInterface
}

// NewUserCouponRepository creates a new UserCouponRepository with the given pool.
func NewUserCouponRepository(pool *pgxpool.Pool) *UserCouponRepository {
	return &UserCouponRepository{pool: pool}
}

// NewUserCouponRepositoryWithPool creates a UserCouponRepository with a
// custom pool interface. This is primarily used for testing.
func NewUserCouponRepositoryWithPool(pool PoolInterface) *UserCouponRepository {
	return &UserCouponRepository{pool: pool}
}

const userCouponColumns = `user_coupon_id, user_id, coupon_id, status, issued_at, used_at`

// Insert inserts a new UNUSED user coupon within a transaction. The unique
// (user_id, coupon_id) constraint is the at-most-once guard per pair.
// Returns service.ErrAlreadyIssued if the user already holds this coupon.
func (r *UserCouponRepository) Insert(ctx context.Context, tx database.TxQuerier, userID, couponID int64) (*model.UserCoupon, error) {
	query := `INSERT INTO user_coupons (user_id, coupon_id, status)
	          VALUES ($1, $2, $3)
	          RETURNING user_coupon_id, issued_at`

	uc := model.UserCoupon{
		UserID:   userID,
		CouponID: couponID,
		Status:   model.UserCouponUnused,
	}
	err := tx.QueryRow(ctx, query, userID, couponID, model.UserCouponUnused).
		Scan(&uc.UserCouponID, &uc.IssuedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, service.ErrAlreadyIssued
		}
		return nil, fmt.Errorf("insert user coupon: %w", err)
	}
	return &uc, nil
}

// Exists reports whether the user already holds the coupon.
func (r *UserCouponRepository) Exists(ctx context.Context, userID, couponID int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM user_coupons WHERE user_id = $1 AND coupon_id = $2)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID, couponID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check user coupon existence: %w", err)
	}
	return exists, nil
}

// GetForUpdate retrieves the user coupon for (user_id, coupon_id) with a
// row-level exclusive lock. Used by the saga's coupon-usage step.
// Returns service.ErrUserCouponNotFound if no such row exists.
func (r *UserCouponRepository) GetForUpdate(ctx context.Context, tx database.TxQuerier, userID, couponID int64) (*model.UserCoupon, error) {
	query := `SELECT ` + userCouponColumns + ` FROM user_coupons
	          WHERE user_id = $1 AND coupon_id = $2 FOR UPDATE`

	var uc model.UserCoupon
	err := tx.QueryRow(ctx, query, userID, couponID).Scan(
		&uc.UserCouponID, &uc.UserID, &uc.CouponID, &uc.Status, &uc.IssuedAt, &uc.UsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrUserCouponNotFound
		}
		return nil, fmt.Errorf("get user coupon for update (%d,%d): %w", userID, couponID, err)
	}
	return &uc, nil
}

// UpdateStatus transitions a user coupon and sets or clears used_at.
// Must be called within a transaction after locking the row.
func (r *UserCouponRepository) UpdateStatus(ctx context.Context, tx database.TxQuerier, userCouponID int64, status model.UserCouponStatus, usedAt *time.Time) error {
	query := `UPDATE user_coupons SET status = $1, used_at = $2 WHERE user_coupon_id = $3`

	tag, err := tx.Exec(ctx, query, status, usedAt, userCouponID)
	if err != nil {
		return fmt.Errorf("update user coupon %d status: %w", userCouponID, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrUserCouponNotFound
	}
	return nil
}
