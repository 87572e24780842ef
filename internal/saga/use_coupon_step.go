package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
	"github.com/fairyhunter13/scalable-order-system/internal/service"
	"github.com/fairyhunter13/scalable-order-system/pkg/database"
)

// UseCouponStep marks the user's coupon as used. Skipped entirely when the
// order carries no coupon. The (user_id, coupon_id) row lock is the only
// guard needed; coupon contention is serialized by the issuance pipeline.
type UseCouponStep struct {
	pool        TxBeginner
	userCoupons UserCouponStore
	now         func() time.Time
}

// NewUseCouponStep creates the coupon-usage step.
func NewUseCouponStep(pool TxBeginner, userCoupons UserCouponStore) *UseCouponStep {
	return &UseCouponStep{pool: pool, userCoupons: userCoupons, now: time.Now}
}

// Name implements Step.
func (s *UseCouponStep) Name() string { return "UseCouponStep" }

// Order implements Step.
func (s *UseCouponStep) Order() int { return 3 }

// Execute transitions the user coupon UNUSED -> USED. Fails with
// service.ErrCouponInvalid when the row is missing or in any other state.
func (s *UseCouponStep) Execute(ctx context.Context, snap *Snapshot) error {
	if snap.CouponID == nil {
		return nil
	}
	err := database.RunInTx(ctx, s.pool, func(tx pgx.Tx) error {
		uc, err := s.userCoupons.GetForUpdate(ctx, tx, snap.UserID, *snap.CouponID)
		if err != nil {
			if errors.Is(err, service.ErrUserCouponNotFound) {
				return service.ErrCouponInvalid
			}
			return err
		}
		if uc.Status != model.UserCouponUnused {
			return fmt.Errorf("user coupon %d in status %s: %w", uc.UserCouponID, uc.Status, service.ErrCouponInvalid)
		}
		usedAt := s.now()
		return s.userCoupons.UpdateStatus(ctx, tx, uc.UserCouponID, model.UserCouponUsed, &usedAt)
	})
	if err != nil {
		return fmt.Errorf("use coupon: %w", err)
	}
	return nil
}

// Compensate returns the coupon to UNUSED and clears used_at. Idempotent:
// a coupon already back in UNUSED is left alone.
func (s *UseCouponStep) Compensate(ctx context.Context, snap *Snapshot) error {
	if snap.CouponID == nil {
		return nil
	}
	err := database.RunInTx(ctx, s.pool, func(tx pgx.Tx) error {
		uc, err := s.userCoupons.GetForUpdate(ctx, tx, snap.UserID, *snap.CouponID)
		if err != nil {
			return err
		}
		if uc.Status == model.UserCouponUnused {
			return nil
		}
		return s.userCoupons.UpdateStatus(ctx, tx, uc.UserCouponID, model.UserCouponUnused, nil)
	})
	if err != nil {
		return fmt.Errorf("revert coupon: %w", err)
	}
	return nil
}
