package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
	"github.com/fairyhunter13/scalable-order-system/pkg/database"
)

// CreateOrderStep persists the order, its items, and the ORDER_COMPLETED
// outbox row in one transaction, then nudges the outbox dispatcher through
// an after-commit trigger.
type CreateOrderStep struct {
	pool   TxBeginner
	orders OrderStore
	outbox OutboxStore
	// wakeDispatcher is invoked after the transaction commits. Non-blocking.
	wakeDispatcher func()
	now            func() time.Time
}

// NewCreateOrderStep creates the terminal order step. wakeDispatcher may be
// nil when no dispatcher runs in-process (tests, offline tools).
func NewCreateOrderStep(pool TxBeginner, orders OrderStore, outbox OutboxStore, wakeDispatcher func()) *CreateOrderStep {
	return &CreateOrderStep{pool: pool, orders: orders, outbox: outbox, wakeDispatcher: wakeDispatcher, now: time.Now}
}

// Name implements Step.
func (s *CreateOrderStep) Name() string { return "CreateOrderStep" }

// Order implements Step.
func (s *CreateOrderStep) Order() int { return 4 }

// Execute inserts the order (COMPLETED), its items, and the outbox row in
// a single transaction, then populates snap.OrderID for the compensations
// of earlier steps.
func (s *CreateOrderStep) Execute(ctx context.Context, snap *Snapshot) error {
	order := &model.Order{
		UserID:         snap.UserID,
		Status:         model.OrderCompleted,
		CouponID:       snap.CouponID,
		Subtotal:       snap.Subtotal,
		CouponDiscount: snap.CouponDiscount,
		FinalAmount:    snap.FinalAmount,
	}

	err := database.RunInTx(ctx, s.pool, func(tx pgx.Tx) error {
		orderID, err := s.orders.Insert(ctx, tx, order)
		if err != nil {
			return err
		}

		items := make([]model.OrderItem, 0, len(snap.Items))
		for _, it := range snap.Items {
			items = append(items, model.OrderItem{
				OrderID:     orderID,
				ProductID:   it.ProductID,
				OptionID:    it.OptionID,
				ProductName: it.ProductName,
				OptionName:  it.OptionName,
				Quantity:    it.Quantity,
				UnitPrice:   it.UnitPrice,
				Subtotal:    it.Subtotal,
			})
		}
		if err := s.orders.InsertItems(ctx, tx, items); err != nil {
			return err
		}

		payload, err := json.Marshal(model.OrderCompletedPayload{
			OrderID:     orderID,
			UserID:      snap.UserID,
			FinalAmount: snap.FinalAmount,
			OccurredAt:  s.now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("marshal order completed payload: %w", err)
		}
		return s.outbox.Save(ctx, tx, &model.OutboxMessage{
			OrderID:     orderID,
			UserID:      snap.UserID,
			MessageType: model.MessageOrderCompleted,
			Payload:     payload,
		})
	})
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	snap.OrderID = order.OrderID
	if s.wakeDispatcher != nil {
		s.wakeDispatcher()
	}
	return nil
}

// Compensate serves the cancellation API, not intra-saga rollback: in the
// linear four-step shape this step is terminal, so a saga failure never
// reaches it with a recorded execution. It flips the order to CANCELLED and
// writes the ORDER_CANCELLED outbox row in one transaction.
func (s *CreateOrderStep) Compensate(ctx context.Context, snap *Snapshot) error {
	if snap.OrderID == 0 {
		return nil
	}

	order, err := s.orders.GetByID(ctx, snap.OrderID)
	if err != nil {
		return fmt.Errorf("read order %d for cancel: %w", snap.OrderID, err)
	}

	cancelledAt := s.now().UTC()
	err = database.RunInTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.orders.MarkCancelled(ctx, tx, snap.OrderID, cancelledAt); err != nil {
			return err
		}
		payload, err := json.Marshal(model.OrderCancelledPayload{
			OrderID:     snap.OrderID,
			UserID:      order.UserID,
			FinalAmount: order.FinalAmount,
			OccurredAt:  cancelledAt,
			CancelledAt: cancelledAt,
		})
		if err != nil {
			return fmt.Errorf("marshal order cancelled payload: %w", err)
		}
		return s.outbox.Save(ctx, tx, &model.OutboxMessage{
			OrderID:     snap.OrderID,
			UserID:      order.UserID,
			MessageType: model.MessageOrderCancelled,
			Payload:     payload,
		})
	})
	if err != nil {
		return fmt.Errorf("cancel order %d: %w", snap.OrderID, err)
	}

	if s.wakeDispatcher != nil {
		s.wakeDispatcher()
	}
	return nil
}
