package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
	"github.com/fairyhunter13/scalable-order-system/internal/service"
	"github.com/fairyhunter13/scalable-order-system/pkg/database"
)

// OrderRepository provides data access for orders and their items.
type OrderRepository struct {
	pool PoolInterface
}

// NewOrderRepository creates a new OrderRepository with the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// NewOrderRepositoryWithPool creates an OrderRepository with a custom pool
// interface. This is primarily used for testing.
func NewOrderRepositoryWithPool(pool PoolInterface) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const orderColumns = `order_id, user_id, status, coupon_id, subtotal, coupon_discount, final_amount, created_at, cancelled_at`

// Insert inserts a new order row within a transaction and returns its id.
func (r *OrderRepository) Insert(ctx context.Context, tx database.TxQuerier, order *model.Order) (int64, error) {
	query := `INSERT INTO orders (user_id, status, coupon_id, subtotal, coupon_discount, final_amount)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          RETURNING order_id, created_at`

	err := tx.QueryRow(ctx, query,
		order.UserID, order.Status, order.CouponID,
		order.Subtotal, order.CouponDiscount, order.FinalAmount,
	).Scan(&order.OrderID, &order.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}
	return order.OrderID, nil
}

// InsertItems inserts the order's item rows within the same transaction as
// the order insert.
func (r *OrderRepository) InsertItems(ctx context.Context, tx database.TxQuerier, items []model.OrderItem) error {
	query := `INSERT INTO order_items (order_id, product_id, option_id, product_name, option_name, quantity, unit_price, subtotal)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	for i := range items {
		it := &items[i]
		if _, err := tx.Exec(ctx, query,
			it.OrderID, it.ProductID, it.OptionID, it.ProductName, it.OptionName,
			it.Quantity, it.UnitPrice, it.Subtotal,
		); err != nil {
			return fmt.Errorf("insert order item (option %d): %w", it.OptionID, err)
		}
	}
	return nil
}

// GetByID retrieves an order by id without a lock.
// Returns service.ErrOrderNotFound if the order doesn't exist.
func (r *OrderRepository) GetByID(ctx context.Context, orderID int64) (*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1`
	return r.scanOrder(r.pool.QueryRow(ctx, query, orderID), orderID)
}

// GetByIDForUpdate retrieves an order with a row-level exclusive lock.
// Used by the cancellation path so two cancellations cannot interleave.
func (r *OrderRepository) GetByIDForUpdate(ctx context.Context, tx database.TxQuerier, orderID int64) (*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1 FOR UPDATE`
	return r.scanOrder(tx.QueryRow(ctx, query, orderID), orderID)
}

func (r *OrderRepository) scanOrder(row pgx.Row, orderID int64) (*model.Order, error) {
	var o model.Order
	err := row.Scan(
		&o.OrderID, &o.UserID, &o.Status, &o.CouponID,
		&o.Subtotal, &o.CouponDiscount, &o.FinalAmount,
		&o.CreatedAt, &o.CancelledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order %d: %w", orderID, err)
	}
	return &o, nil
}

// GetItems retrieves the items of an order. Compensation re-reads items
// from here rather than trusting any in-memory copy.
// On success, returns an empty slice (not nil) when no items exist.
func (r *OrderRepository) GetItems(ctx context.Context, q database.TxQuerier, orderID int64) ([]model.OrderItem, error) {
	query := `SELECT order_item_id, order_id, product_id, option_id, product_name, option_name, quantity, unit_price, subtotal
	          FROM order_items WHERE order_id = $1 ORDER BY order_item_id`

	rows, err := q.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("get items for order %d: %w", orderID, err)
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(
			&it.OrderItemID, &it.OrderID, &it.ProductID, &it.OptionID,
			&it.ProductName, &it.OptionName, &it.Quantity, &it.UnitPrice, &it.Subtotal,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	if items == nil {
		items = []model.OrderItem{}
	}
	return items, nil
}

// MarkCancelled transitions a COMPLETED order to CANCELLED. Must be called
// within a transaction after locking the row.
// Returns service.ErrOrderNotCancellable if the order is in any other state.
func (r *OrderRepository) MarkCancelled(ctx context.Context, tx database.TxQuerier, orderID int64, at time.Time) error {
	query := `UPDATE orders SET status = $1, cancelled_at = $2
	          WHERE order_id = $3 AND status = $4`

	tag, err := tx.Exec(ctx, query, model.OrderCancelled, at, orderID, model.OrderCompleted)
	if err != nil {
		return fmt.Errorf("mark order %d cancelled: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrOrderNotCancellable
	}
	return nil
}
