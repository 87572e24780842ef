package model

import "time"

// OutboxStatus enumerates the outbox message state machine.
//
//	PENDING    -> PUBLISHING          claimed by the dispatcher
//	PUBLISHING -> PUBLISHING          stale claim reclaimed after the lease
//	PUBLISHING -> PUBLISHED           event log accepted the message
//	PUBLISHING -> PENDING (retry+1)   transient publish failure
//	PENDING    -> ABANDONED           retry budget exhausted
//	PUBLISHING -> FAILED              non-retryable publish error
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "PENDING"
	OutboxPublishing OutboxStatus = "PUBLISHING"
	OutboxPublished  OutboxStatus = "PUBLISHED"
	OutboxFailed     OutboxStatus = "FAILED"
	OutboxAbandoned  OutboxStatus = "ABANDONED"
)

// Outbox message types carried on the order event log.
const (
	MessageOrderCompleted = "ORDER_COMPLETED"
	MessageOrderCancelled = "ORDER_CANCELLED"
	MessageCouponIssued   = "COUPON_ISSUED"
)

// OutboxMessage is a row of the transactional outbox. It is inserted
// PENDING inside the same DB transaction as the business rows it describes.
type OutboxMessage struct {
	MessageID   string       `json:"message_id"`
	OrderID     int64        `json:"order_id"`
	UserID      int64        `json:"user_id"`
	MessageType string       `json:"message_type"`
	Payload     []byte       `json:"payload"`
	Status      OutboxStatus `json:"status"`
	RetryCount  int          `json:"retry_count"`
	LastAttempt *time.Time   `json:"last_attempt,omitempty"`
	SentAt      *time.Time   `json:"sent_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// OrderCompletedPayload is the wire payload for ORDER_COMPLETED events.
type OrderCompletedPayload struct {
	OrderID     int64     `json:"order_id"`
	UserID      int64     `json:"user_id"`
	FinalAmount int64     `json:"final_amount"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// OrderCancelledPayload is the wire payload for ORDER_CANCELLED events.
type OrderCancelledPayload struct {
	OrderID     int64     `json:"order_id"`
	UserID      int64     `json:"user_id"`
	FinalAmount int64     `json:"final_amount"`
	OccurredAt  time.Time `json:"occurred_at"`
	CancelledAt time.Time `json:"cancelled_at"`
}
