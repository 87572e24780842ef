package service

import (
	"errors"

	"github.com/fairyhunter13/scalable-order-system/pkg/lock"
)

var (
	// ErrUserNotFound is returned when a user cannot be found
	ErrUserNotFound = errors.New("user not found")

	// ErrProductNotFound is returned when a product option cannot be found
	ErrProductNotFound = errors.New("product option not found")

	// ErrOrderNotFound is returned when an order cannot be found
	ErrOrderNotFound = errors.New("order not found")

	// ErrCouponNotFound is returned when a coupon cannot be found
	ErrCouponNotFound = errors.New("coupon not found")

	// ErrUserCouponNotFound is returned when a user holds no such coupon
	ErrUserCouponNotFound = errors.New("user coupon not found")

	// ErrCouponExists is returned when attempting to create a coupon that already exists
	ErrCouponExists = errors.New("coupon already exists")

	// ErrInvalidRequest is returned when request data is invalid or incomplete
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInsufficientStock is returned when an option has less stock than requested
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInsufficientBalance is returned when a wallet cannot cover the order amount
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrCouponInvalid is returned when a user coupon is missing or not UNUSED
	ErrCouponInvalid = errors.New("coupon invalid for use")

	// ErrCouponExpired is returned when issuance falls outside the validity window
	ErrCouponExpired = errors.New("coupon expired")

	// ErrCouponInactive is returned when the coupon is not active
	ErrCouponInactive = errors.New("coupon inactive")

	// ErrCouponOutOfStock is returned when a coupon has no remaining quantity
	ErrCouponOutOfStock = errors.New("coupon out of stock")

	// ErrAlreadyIssued is returned when a user already holds this coupon
	ErrAlreadyIssued = errors.New("coupon already issued to user")

	// ErrOrderNotCancellable is returned when the order is not in COMPLETED state
	ErrOrderNotCancellable = errors.New("order not cancellable")

	// ErrVersionConflict is returned when an optimistic version check fails
	ErrVersionConflict = errors.New("version conflict")

	// ErrOrderCreationFailed is the degraded business error after the saga's
	// transient retry budget runs out
	ErrOrderCreationFailed = errors.New("order creation failed")

	// ErrRetryExhausted is the terminal error for coupon requests that
	// failed transiently more times than the retry cap allows
	ErrRetryExhausted = errors.New("exhausted retries")
)

// Kind tags an error for the saga and queue policy layers. Steps surface
// typed errors; only the orchestrator and the workers look at the tag.
type Kind int

const (
	// KindBusiness marks domain-rule failures. Never retried.
	KindBusiness Kind = iota
	// KindNotFound marks missing-entity failures. Never retried.
	KindNotFound
	// KindConflict marks optimistic version mismatches. Retried with
	// backoff up to a small cap.
	KindConflict
	// KindTransient marks infrastructure failures (lock timeout, DB
	// hiccup, publish failure). Retried per the caller's budget.
	KindTransient
	// KindCritical marks compensation failures that leave a durable
	// inconsistency. Alerts and halts further compensation.
	KindCritical
)

// String returns the tag name used in logs and DLQ rows.
func (k Kind) String() string {
	switch k {
	case KindBusiness:
		return "business"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// CriticalError wraps an error that leaves a durable inconsistency the
// system cannot self-heal. Raised only from compensation paths.
type CriticalError struct {
	Err error
}

func (e *CriticalError) Error() string { return "critical: " + e.Err.Error() }

func (e *CriticalError) Unwrap() error { return e.Err }

// Critical tags err as a critical compensation failure.
func Critical(err error) error {
	if err == nil {
		return nil
	}
	return &CriticalError{Err: err}
}

// Classify maps an error to its policy tag. Uncategorized errors are
// treated as transient so infrastructure noise gets the retry budget
// rather than being surfaced as a business failure.
func Classify(err error) Kind {
	var crit *CriticalError
	switch {
	case errors.As(err, &crit):
		return KindCritical
	case errors.Is(err, ErrVersionConflict):
		return KindConflict
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrCouponNotFound),
		errors.Is(err, ErrUserCouponNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrCouponInvalid),
		errors.Is(err, ErrCouponExpired),
		errors.Is(err, ErrCouponInactive),
		errors.Is(err, ErrCouponOutOfStock),
		errors.Is(err, ErrAlreadyIssued),
		errors.Is(err, ErrOrderNotCancellable),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrCouponExists):
		return KindBusiness
	case errors.Is(err, lock.ErrLockTimeout):
		return KindTransient
	default:
		return KindTransient
	}
}

// Retryable reports whether the saga may re-run a failed step execute.
func Retryable(err error) bool {
	k := Classify(err)
	return k == KindConflict || k == KindTransient
}
