package model

import "time"

// CouponRequest is the payload of one partitioned-log entry. The log is
// keyed by coupon id, so all contention for one coupon lands in one
// partition and is consumed in strict enqueue order.
type CouponRequest struct {
	RequestID  string    `json:"request_id"`
	UserID     int64     `json:"user_id"`
	CouponID   int64     `json:"coupon_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	RetryCount int       `json:"retry_count"`
}

// AsyncStatusState enumerates the states a polled request can report.
type AsyncStatusState string

const (
	AsyncPending   AsyncStatusState = "PENDING"
	AsyncCompleted AsyncStatusState = "COMPLETED"
	AsyncFailed    AsyncStatusState = "FAILED"
	AsyncRetry     AsyncStatusState = "RETRY"
	AsyncNotFound  AsyncStatusState = "NOT_FOUND"
	AsyncError     AsyncStatusState = "ERROR"
)

// Terminal reports whether the state will never change again.
func (s AsyncStatusState) Terminal() bool {
	return s == AsyncCompleted || s == AsyncFailed
}

// AsyncStatus is the short-lived per-request record consulted by the
// polling endpoint.
type AsyncStatus struct {
	RequestID string           `json:"request_id"`
	Status    AsyncStatusState `json:"status"`
	Result    *UserCouponView  `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	WaitingMs int64            `json:"waiting_ms"`
}
