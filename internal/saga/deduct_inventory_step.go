package saga

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/scalable-order-system/internal/service"
	"github.com/fairyhunter13/scalable-order-system/pkg/database"
	"github.com/fairyhunter13/scalable-order-system/pkg/lock"
)

// DeductInventoryStep decrements option stock for every line of the order.
// Each option is handled under its product:stock KV-lock plus a pessimistic
// row lock, in its own transaction.
type DeductInventoryStep struct {
	pool     TxBeginner
	products ProductStore
	orders   OrderStore
	locker   Locker
	timings  StepTimings
}

// NewDeductInventoryStep creates the inventory step.
func NewDeductInventoryStep(pool TxBeginner, products ProductStore, orders OrderStore, locker Locker, timings StepTimings) *DeductInventoryStep {
	return &DeductInventoryStep{pool: pool, products: products, orders: orders, locker: locker, timings: timings}
}

// Name implements Step.
func (s *DeductInventoryStep) Name() string { return "DeductInventoryStep" }

// Order implements Step.
func (s *DeductInventoryStep) Order() int { return 1 }

// Execute deducts stock for each item. Fails with service.ErrInsufficientStock
// when any option cannot cover its quantity; lock.ErrLockTimeout surfaces as
// retryable to the orchestrator.
func (s *DeductInventoryStep) Execute(ctx context.Context, snap *Snapshot) error {
	for i := range snap.Items {
		item := &snap.Items[i]
		err := s.locker.WithLock(ctx, lock.ProductStockKey(item.OptionID), s.timings.LockWait, s.timings.LockLease, func(ctx context.Context) error {
			return database.RunInTx(ctx, s.pool, func(tx pgx.Tx) error {
				opt, _, err := s.products.GetOptionForUpdate(ctx, tx, item.OptionID)
				if err != nil {
					return err
				}
				if opt.Stock < item.Quantity {
					return fmt.Errorf("option %d has %d, need %d: %w",
						item.OptionID, opt.Stock, item.Quantity, service.ErrInsufficientStock)
				}
				return s.products.UpdateStock(ctx, tx, item.OptionID, opt.Stock-item.Quantity, opt.Version)
			})
		})
		if err != nil {
			// A failed step never lands on the execution trail, so its
			// compensation is not invoked. Undo the lines already deducted
			// before surfacing the failure.
			s.restore(ctx, snap, snap.Items[:i])
			return fmt.Errorf("deduct inventory: %w", err)
		}
	}
	return nil
}

// restore adds quantities back for the given items, best effort.
func (s *DeductInventoryStep) restore(ctx context.Context, snap *Snapshot, items []SnapshotItem) []int64 {
	var failed []int64
	for i := range items {
		item := &items[i]
		err := s.locker.WithLock(ctx, lock.ProductStockKey(item.OptionID), s.timings.LockWait, s.timings.LockLease, func(ctx context.Context) error {
			return database.RunInTx(ctx, s.pool, func(tx pgx.Tx) error {
				opt, _, err := s.products.GetOptionForUpdate(ctx, tx, item.OptionID)
				if err != nil {
					return err
				}
				return s.products.UpdateStock(ctx, tx, item.OptionID, opt.Stock+item.Quantity, opt.Version)
			})
		})
		if err != nil {
			log.Error().
				Err(err).
				Int64("option_id", item.OptionID).
				Int("quantity", item.Quantity).
				Int64("order_id", snap.OrderID).
				Msg("stock restore failed, continuing with remaining options")
			failed = append(failed, item.OptionID)
		}
	}
	return failed
}

// Compensate restores stock. When the order row exists its durable items
// are the source of truth; before that point the snapshot's option list is
// the only record of what was deducted. Per-option failures are logged and
// do not abort the remaining restores, but any unrestored option is a
// durable inconsistency and is reported as critical.
func (s *DeductInventoryStep) Compensate(ctx context.Context, snap *Snapshot) error {
	items := snap.Items
	if snap.OrderID != 0 {
		err := database.RunInTx(ctx, s.pool, func(tx pgx.Tx) error {
			durable, err := s.orders.GetItems(ctx, tx, snap.OrderID)
			if err != nil {
				return err
			}
			items = items[:0:0]
			for _, it := range durable {
				items = append(items, SnapshotItem{OptionID: it.OptionID, Quantity: it.Quantity})
			}
			return nil
		})
		if err != nil {
			return service.Critical(fmt.Errorf("read order %d items for restore: %w", snap.OrderID, err))
		}
	}

	if failed := s.restore(ctx, snap, items); len(failed) > 0 {
		return service.Critical(fmt.Errorf("stock not restored for options %v", failed))
	}
	return nil
}
