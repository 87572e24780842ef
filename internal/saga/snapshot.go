// Package saga drives the order placement flow: four local transactions
// with matching compensations, executed under an orchestrator that
// guarantees either forward completion or LIFO-compensated rollback.
package saga

// SnapshotItem is one order line enriched with the catalog snapshot taken
// when the order was priced.
type SnapshotItem struct {
	OptionID    int64  `json:"option_id"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	OptionName  string `json:"option_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Subtotal    int64  `json:"subtotal"`
}

// Snapshot carries the saga's working state between steps. Amounts are
// computed by the caller before the saga starts; steps only consume them.
//
// Compensation must never depend on anything here that cannot be re-read
// from durable state: the trail and OrderID exist to locate that state,
// not to replace it.
type Snapshot struct {
	UserID         int64          `json:"user_id"`
	Items          []SnapshotItem `json:"items"`
	CouponID       *int64         `json:"coupon_id,omitempty"`
	CouponDiscount int64          `json:"coupon_discount"`
	Subtotal       int64          `json:"subtotal"`
	FinalAmount    int64          `json:"final_amount"`

	// OrderID is populated by the order-creation step.
	OrderID int64 `json:"order_id,omitempty"`

	trail []string
}

// RecordExecuted appends a step name to the execution trail. Only steps
// whose Execute returned successfully are recorded.
func (s *Snapshot) RecordExecuted(name string) {
	s.trail = append(s.trail, name)
}

// Trail returns the execution trail in forward order.
func (s *Snapshot) Trail() []string {
	return s.trail
}
