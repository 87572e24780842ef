package model

import "time"

// OrderStatus enumerates order lifecycle states.
// Once COMPLETED, the only legal next transition is CANCELLED.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderFailed    OrderStatus = "FAILED"
)

// Order is the persisted order header.
// Invariant: FinalAmount = max(0, Subtotal - CouponDiscount).
type Order struct {
	OrderID        int64       `json:"order_id"`
	UserID         int64       `json:"user_id"`
	Status         OrderStatus `json:"status"`
	CouponID       *int64      `json:"coupon_id,omitempty"`
	Subtotal       int64       `json:"subtotal"`
	CouponDiscount int64       `json:"coupon_discount"`
	FinalAmount    int64       `json:"final_amount"`
	CreatedAt      time.Time   `json:"created_at"`
	CancelledAt    *time.Time  `json:"cancelled_at,omitempty"`
}

// OrderItem is one line of an order. Product and option names are
// snapshots taken at order time so later catalog edits do not rewrite
// order history.
type OrderItem struct {
	OrderItemID int64  `json:"order_item_id"`
	OrderID     int64  `json:"order_id"`
	ProductID   int64  `json:"product_id"`
	OptionID    int64  `json:"option_id"`
	ProductName string `json:"product_name"`
	OptionName  string `json:"option_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Subtotal    int64  `json:"subtotal"`
}

// OrderLine is the caller-facing input for one item of a new order.
type OrderLine struct {
	OptionID int64 `json:"option_id" validate:"required,gt=0"`
	Quantity int   `json:"quantity" validate:"required,gte=1"`
}

// PlaceOrderRequest is the DTO for the order endpoint.
type PlaceOrderRequest struct {
	UserID   int64       `json:"user_id" validate:"required,gt=0"`
	Items    []OrderLine `json:"items" validate:"required,min=1,dive"`
	CouponID *int64      `json:"coupon_id,omitempty" validate:"omitempty,gt=0"`
}

// CancelOrderRequest is the DTO for the cancellation endpoint.
type CancelOrderRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

// CancelReport summarises what a successful cancellation restored.
type CancelReport struct {
	OrderID        int64     `json:"order_id"`
	RefundedAmount int64     `json:"refunded_amount"`
	RestoredItems  int       `json:"restored_items"`
	CouponReverted bool      `json:"coupon_reverted"`
	CancelledAt    time.Time `json:"cancelled_at"`
}
