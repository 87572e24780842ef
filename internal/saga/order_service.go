package saga

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
	"github.com/fairyhunter13/scalable-order-system/internal/service"
	"github.com/fairyhunter13/scalable-order-system/pkg/database"
)

// CatalogStore prices order lines from the catalog.
type CatalogStore interface {
	GetOption(ctx context.Context, optionID int64) (*model.ProductOption, string, error)
}

// CouponReader reads coupon definitions for discount computation.
type CouponReader interface {
	GetByID(ctx context.Context, couponID int64) (*model.Coupon, error)
}

// OrderService is the public entry point of the order saga: it prices the
// request into a snapshot, drives the orchestrator, and serves the
// cancellation path by replaying step compensations against durable state.
type OrderService struct {
	pool         TxBeginner
	catalog      CatalogStore
	coupons      CouponReader
	orders       OrderStore
	orchestrator *Orchestrator
	handler      *FailureHandler
	now          func() time.Time
}

// NewOrderService creates an OrderService.
func NewOrderService(
	pool TxBeginner,
	catalog CatalogStore,
	coupons CouponReader,
	orders OrderStore,
	orchestrator *Orchestrator,
	handler *FailureHandler,
) *OrderService {
	return &OrderService{
		pool:         pool,
		catalog:      catalog,
		coupons:      coupons,
		orders:       orders,
		orchestrator: orchestrator,
		handler:      handler,
		now:          time.Now,
	}
}

// PlaceOrder prices the request, builds the saga snapshot, and executes
// the saga. Returns the new order id on success.
func (s *OrderService) PlaceOrder(ctx context.Context, req *model.PlaceOrderRequest) (int64, error) {
	if req == nil || req.UserID <= 0 || len(req.Items) == 0 {
		return 0, service.ErrInvalidRequest
	}

	snap, err := s.buildSnapshot(ctx, req)
	if err != nil {
		return 0, err
	}
	return s.orchestrator.Execute(ctx, snap)
}

// buildSnapshot prices each line from the catalog (name snapshots
// included) and applies the coupon discount. Amounts are fixed here; the
// steps only consume them.
func (s *OrderService) buildSnapshot(ctx context.Context, req *model.PlaceOrderRequest) (*Snapshot, error) {
	items := make([]SnapshotItem, 0, len(req.Items))
	var subtotal int64

	for _, line := range req.Items {
		if line.Quantity < 1 {
			return nil, fmt.Errorf("quantity %d for option %d: %w", line.Quantity, line.OptionID, service.ErrInvalidRequest)
		}
		opt, productName, err := s.catalog.GetOption(ctx, line.OptionID)
		if err != nil {
			return nil, err
		}
		lineSubtotal := opt.UnitPrice * int64(line.Quantity)
		items = append(items, SnapshotItem{
			OptionID:    opt.OptionID,
			ProductID:   opt.ProductID,
			ProductName: productName,
			OptionName:  opt.Name,
			Quantity:    line.Quantity,
			UnitPrice:   opt.UnitPrice,
			Subtotal:    lineSubtotal,
		})
		subtotal += lineSubtotal
	}

	var discount int64
	if req.CouponID != nil {
		coupon, err := s.coupons.GetByID(ctx, *req.CouponID)
		if err != nil {
			return nil, err
		}
		discount = coupon.DiscountFor(subtotal)
	}

	final := subtotal - discount
	if final < 0 {
		final = 0
	}

	return &Snapshot{
		UserID:         req.UserID,
		Items:          items,
		CouponID:       req.CouponID,
		CouponDiscount: discount,
		Subtotal:       subtotal,
		FinalAmount:    final,
	}, nil
}

// CancelOrder cancels a COMPLETED order and undoes its effects exactly
// once: the status flip to CANCELLED is the gate, so a repeated
// cancellation fails with ErrOrderNotCancellable before any restore runs.
// The undo work is the steps' own compensations, replayed in descending
// step order against the durable order row and items.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, actingUserID int64) (*model.CancelReport, error) {
	var order *model.Order
	var items []model.OrderItem
	err := database.RunInTx(ctx, s.pool, func(tx pgx.Tx) error {
		// The row lock serializes concurrent cancellations of the same
		// order; the snapshot below is read against a settled row.
		var err error
		order, err = s.orders.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != actingUserID {
			// Do not reveal other users' orders.
			return service.ErrOrderNotFound
		}
		items, err = s.orders.GetItems(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		UserID:         order.UserID,
		CouponID:       order.CouponID,
		CouponDiscount: order.CouponDiscount,
		Subtotal:       order.Subtotal,
		FinalAmount:    order.FinalAmount,
		OrderID:        orderID,
	}
	for _, it := range items {
		snap.Items = append(snap.Items, SnapshotItem{
			OptionID:  it.OptionID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Subtotal:  it.Subtotal,
		})
	}

	steps := make([]Step, len(s.orchestrator.steps))
	copy(steps, s.orchestrator.steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Order() > steps[j].Order() })

	// The order-creation step compensates first and acts as the gate: it
	// only transitions COMPLETED -> CANCELLED. Its failure aborts the
	// cancellation before anything is restored.
	gate := steps[0]
	if err := gate.Compensate(ctx, snap); err != nil {
		return nil, err
	}

	for _, step := range steps[1:] {
		if err := s.compensate(ctx, step, snap); err != nil {
			return nil, err
		}
	}

	log.Info().
		Int64("order_id", orderID).
		Int64("user_id", actingUserID).
		Int64("refunded", order.FinalAmount).
		Msg("order cancelled")

	return &model.CancelReport{
		OrderID:        orderID,
		RefundedAmount: order.FinalAmount,
		RestoredItems:  len(items),
		CouponReverted: order.CouponID != nil,
		CancelledAt:    s.now().UTC(),
	}, nil
}

func (s *OrderService) compensate(ctx context.Context, step Step, snap *Snapshot) error {
	err := step.Compensate(ctx, snap)
	if err == nil {
		return nil
	}
	id := snap.OrderID
	return s.handler.Handle(ctx, FailureContext{
		OrderID:   &id,
		UserID:    snap.UserID,
		StepName:  step.Name(),
		StepOrder: step.Order(),
		Err:       err,
		Snapshot:  snap,
	})
}
