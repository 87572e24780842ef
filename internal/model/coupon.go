package model

import "time"

// DiscountType enumerates how a coupon reduces the order subtotal.
type DiscountType string

const (
	DiscountFixedAmount DiscountType = "FIXED_AMOUNT"
	DiscountPercentage  DiscountType = "PERCENTAGE"
)

// UserCouponStatus enumerates the lifecycle of an issued coupon.
type UserCouponStatus string

const (
	UserCouponUnused    UserCouponStatus = "UNUSED"
	UserCouponUsed      UserCouponStatus = "USED"
	UserCouponExpired   UserCouponStatus = "EXPIRED"
	UserCouponCancelled UserCouponStatus = "CANCELLED"
)

// Coupon represents a limited-quantity coupon definition.
// Invariant: 0 <= RemainingQty <= TotalQty. When RemainingQty hits zero,
// IsActive flips to false in the same row update.
type Coupon struct {
	CouponID       int64        `json:"coupon_id"`
	Name           string       `json:"name"`
	DiscountType   DiscountType `json:"discount_type"`
	DiscountAmount int64        `json:"discount_amount"`
	DiscountRate   float64      `json:"discount_rate"`
	TotalQty       int          `json:"total_qty"`
	RemainingQty   int          `json:"remaining_qty"`
	ValidFrom      time.Time    `json:"valid_from"`
	ValidUntil     time.Time    `json:"valid_until"`
	IsActive       bool         `json:"is_active"`
	Version        int64        `json:"-"`
	CreatedAt      time.Time    `json:"-"`
}

// IssuableAt reports whether the coupon can be granted at the given instant.
// Quantity is checked separately under the row lock.
func (c *Coupon) IssuableAt(now time.Time) bool {
	return c.IsActive && !now.Before(c.ValidFrom) && !now.After(c.ValidUntil)
}

// DiscountFor computes the discount against a subtotal in minor units.
// A fixed discount never exceeds the subtotal.
func (c *Coupon) DiscountFor(subtotal int64) int64 {
	switch c.DiscountType {
	case DiscountFixedAmount:
		if c.DiscountAmount > subtotal {
			return subtotal
		}
		return c.DiscountAmount
	case DiscountPercentage:
		return int64(float64(subtotal) * c.DiscountRate)
	default:
		return 0
	}
}

// UserCoupon is one grant of a coupon to a user.
// Uniqueness: at most one row per (user_id, coupon_id).
type UserCoupon struct {
	UserCouponID int64            `json:"user_coupon_id"`
	UserID       int64            `json:"user_id"`
	CouponID     int64            `json:"coupon_id"`
	Status       UserCouponStatus `json:"status"`
	IssuedAt     time.Time        `json:"issued_at"`
	UsedAt       *time.Time       `json:"used_at,omitempty"`
}

// UserCouponView is the API projection of an issued coupon.
type UserCouponView struct {
	UserCouponID int64            `json:"user_coupon_id"`
	CouponID     int64            `json:"coupon_id"`
	CouponName   string           `json:"coupon_name"`
	Status       UserCouponStatus `json:"status"`
	IssuedAt     time.Time        `json:"issued_at"`
}

// CreateCouponRequest is the DTO for creating a coupon.
type CreateCouponRequest struct {
	Name           string  `json:"name" validate:"required,notblank,max=255"`
	DiscountType   string  `json:"discount_type" validate:"required,oneof=FIXED_AMOUNT PERCENTAGE"`
	DiscountAmount int64   `json:"discount_amount" validate:"gte=0"`
	DiscountRate   float64 `json:"discount_rate" validate:"gte=0,lte=1"`
	TotalQty       *int    `json:"total_qty" validate:"required,gte=1"`
	ValidFrom      string  `json:"valid_from" validate:"required,rfc3339"`
	ValidUntil     string  `json:"valid_until" validate:"required,rfc3339"`
}

// IssueCouponRequest is the DTO for requesting coupon issuance.
type IssueCouponRequest struct {
	UserID   int64 `json:"user_id" validate:"required,gt=0"`
	CouponID int64 `json:"coupon_id" validate:"required,gt=0"`
}

// EnqueueResponse is returned immediately by the async issuance endpoint.
type EnqueueResponse struct {
	RequestID string `json:"request_id"`
}
