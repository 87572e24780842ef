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

// CouponRepository provides data access for coupon definitions.
type CouponRepository struct {
	pool PoolInterface
}

// NewCouponRepository creates a new CouponRepository with the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// NewCouponRepositoryWithPool creates a CouponRepository with a custom pool
// interface. This is primarily used for testing.
func NewCouponRepositoryWithPool(pool PoolInterface) *CouponRepository {
	return &CouponRepository{pool: pool}
}

const couponColumns = `coupon_id, name, discount_type, discount_amount, discount_rate,
	total_qty, remaining_qty, valid_from, valid_until, is_active, version, created_at`

// Insert inserts a new coupon definition. remaining_qty starts at total_qty.
// Returns service.ErrCouponExists if a coupon with the same name already exists.
func (r *CouponRepository) Insert(ctx context.Context, coupon *model.Coupon) (int64, error) {
	query := `INSERT INTO coupons
	          (name, discount_type, discount_amount, discount_rate, total_qty, remaining_qty, valid_from, valid_until, is_active)
	          VALUES ($1, $2, $3, $4, $5, $5, $6, $7, true)
	          RETURNING coupon_id`

	var id int64
	err := r.pool.QueryRow(ctx, query,
		coupon.Name, coupon.DiscountType, coupon.DiscountAmount, coupon.DiscountRate,
		coupon.TotalQty, coupon.ValidFrom, coupon.ValidUntil,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, service.ErrCouponExists
		}
		return 0, fmt.Errorf("insert coupon: %w", err)
	}
	return id, nil
}

// GetByID retrieves a coupon by id.
// Returns service.ErrCouponNotFound if the coupon doesn't exist.
func (r *CouponRepository) GetByID(ctx context.Context, couponID int64) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE coupon_id = $1`
	return r.scanCoupon(r.pool.QueryRow(ctx, query, couponID), couponID)
}

// GetForUpdate retrieves a coupon with a row-level exclusive lock
// (SELECT FOR UPDATE). This serializes issuance and saga coupon steps on
// the same coupon until the transaction completes.
func (r *CouponRepository) GetForUpdate(ctx context.Context, tx database.TxQuerier, couponID int64) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE coupon_id = $1 FOR UPDATE`
	return r.scanCoupon(tx.QueryRow(ctx, query, couponID), couponID)
}

func (r *CouponRepository) scanCoupon(row pgx.Row, couponID int64) (*model.Coupon, error) {
	var c model.Coupon
	err := row.Scan(
		&c.CouponID, &c.Name, &c.DiscountType, &c.DiscountAmount, &c.DiscountRate,
		&c.TotalQty, &c.RemainingQty, &c.ValidFrom, &c.ValidUntil, &c.IsActive,
		&c.Version, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon %d: %w", couponID, err)
	}
	return &c, nil
}

// DecrementRemaining decrements remaining_qty by 1, deactivating the coupon
// in the same row update when the decrement empties it. Must be called
// within a transaction after locking the row.
// Returns service.ErrCouponOutOfStock if nothing remained to decrement.
func (r *CouponRepository) DecrementRemaining(ctx context.Context, tx database.TxQuerier, couponID int64) error {
	query := `UPDATE coupons
	          SET remaining_qty = remaining_qty - 1,
	              is_active = (remaining_qty - 1 > 0),
	              version = version + 1
	          WHERE coupon_id = $1 AND remaining_qty > 0`

	tag, err := tx.Exec(ctx, query, couponID)
	if err != nil {
		return fmt.Errorf("decrement remaining for coupon %d: %w", couponID, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrCouponOutOfStock
	}
	return nil
}
