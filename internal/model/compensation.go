package model

import "time"

// CompensationStatus enumerates the manual-resolution lifecycle of a
// failed compensation record.
type CompensationStatus string

const (
	CompensationPending  CompensationStatus = "PENDING"
	CompensationResolved CompensationStatus = "RESOLVED"
)

// FailedCompensation is the durable dead-letter record written whenever a
// saga compensation errors. Operators work through PENDING rows by hand.
type FailedCompensation struct {
	ID              int64              `json:"id"`
	OrderID         *int64             `json:"order_id,omitempty"`
	UserID          int64              `json:"user_id"`
	StepName        string             `json:"step_name"`
	StepOrder       int                `json:"step_order"`
	ErrorMessage    string             `json:"error_message"`
	StackTrace      string             `json:"stack_trace"`
	FailedAt        time.Time          `json:"failed_at"`
	RetryCount      int                `json:"retry_count"`
	Status          CompensationStatus `json:"status"`
	ContextSnapshot []byte             `json:"context_snapshot"`
}
