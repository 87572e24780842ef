package saga

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/scalable-order-system/internal/service"
	"github.com/fairyhunter13/scalable-order-system/pkg/database"
	"github.com/fairyhunter13/scalable-order-system/pkg/lock"
)

// DeductBalanceStep debits the user's wallet by the order's final amount,
// under the user:balance KV-lock plus a pessimistic row lock.
type DeductBalanceStep struct {
	pool    TxBeginner
	users   UserStore
	orders  OrderStore
	locker  Locker
	timings StepTimings
}

// NewDeductBalanceStep creates the wallet step.
func NewDeductBalanceStep(pool TxBeginner, users UserStore, orders OrderStore, locker Locker, timings StepTimings) *DeductBalanceStep {
	return &DeductBalanceStep{pool: pool, users: users, orders: orders, locker: locker, timings: timings}
}

// Name implements Step.
func (s *DeductBalanceStep) Name() string { return "DeductBalanceStep" }

// Order implements Step.
func (s *DeductBalanceStep) Order() int { return 2 }

// Execute debits FinalAmount. Fails with service.ErrInsufficientBalance
// when the wallet cannot cover it.
func (s *DeductBalanceStep) Execute(ctx context.Context, snap *Snapshot) error {
	if snap.FinalAmount == 0 {
		return nil
	}
	err := s.locker.WithLock(ctx, lock.UserBalanceKey(snap.UserID), s.timings.LockWait, s.timings.LockLease, func(ctx context.Context) error {
		return database.RunInTx(ctx, s.pool, func(tx pgx.Tx) error {
			user, err := s.users.GetForUpdate(ctx, tx, snap.UserID)
			if err != nil {
				return err
			}
			if user.Balance < snap.FinalAmount {
				return fmt.Errorf("balance %d below amount %d: %w",
					user.Balance, snap.FinalAmount, service.ErrInsufficientBalance)
			}
			return s.users.UpdateBalance(ctx, tx, snap.UserID, user.Balance-snap.FinalAmount, user.Version)
		})
	})
	if err != nil {
		return fmt.Errorf("deduct balance: %w", err)
	}
	return nil
}

// Compensate refunds the debited amount. When the order row already exists
// its final_amount is the durable source of truth; before that point the
// snapshot amount is the only record of the debit. A failed refund leaves
// the wallet short and is reported as critical.
func (s *DeductBalanceStep) Compensate(ctx context.Context, snap *Snapshot) error {
	amount := snap.FinalAmount
	if snap.OrderID != 0 {
		order, err := s.orders.GetByID(ctx, snap.OrderID)
		if err != nil {
			return service.Critical(fmt.Errorf("read order %d for refund: %w", snap.OrderID, err))
		}
		amount = order.FinalAmount
	}
	if amount == 0 {
		return nil
	}

	err := s.locker.WithLock(ctx, lock.UserBalanceKey(snap.UserID), s.timings.LockWait, s.timings.LockLease, func(ctx context.Context) error {
		return database.RunInTx(ctx, s.pool, func(tx pgx.Tx) error {
			user, err := s.users.GetForUpdate(ctx, tx, snap.UserID)
			if err != nil {
				return err
			}
			return s.users.UpdateBalance(ctx, tx, snap.UserID, user.Balance+amount, user.Version)
		})
	})
	if err != nil {
		return service.Critical(fmt.Errorf("refund %d to user %d: %w", amount, snap.UserID, err))
	}
	return nil
}
