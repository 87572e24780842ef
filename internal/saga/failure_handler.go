package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
	"github.com/fairyhunter13/scalable-order-system/internal/service"
)

// CompensationError halts the compensation loop. It wraps the first
// compensation failure classified as critical.
type CompensationError struct {
	StepName string
	Err      error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation halted at %s: %v", e.StepName, e.Err)
}

func (e *CompensationError) Unwrap() error { return e.Err }

// FailureContext describes one failed compensation for the policy layer.
type FailureContext struct {
	OrderID   *int64
	UserID    int64
	StepName  string
	StepOrder int
	Err       error
	Snapshot  *Snapshot
}

// CompensationStore persists dead-letter rows for failed compensations.
type CompensationStore interface {
	Insert(ctx context.Context, fc *model.FailedCompensation) error
}

// Notifier raises critical compensation failures to a human.
type Notifier interface {
	NotifyCritical(ctx context.Context, orderID *int64, stepName string) error
}

// FailureHandler decides, per failed compensation, whether the saga halts
// (critical) or continues best-effort. Every failure is recorded durably
// either way; in-memory dead-letter maps are explicitly not acceptable here.
type FailureHandler struct {
	dlq    CompensationStore
	alerts Notifier
}

// NewFailureHandler creates a FailureHandler.
func NewFailureHandler(dlq CompensationStore, alerts Notifier) *FailureHandler {
	return &FailureHandler{dlq: dlq, alerts: alerts}
}

// Handle records the failure and, when it is critical, alerts and returns a
// CompensationError so the orchestrator stops compensating. Non-critical
// failures return nil and the orchestrator moves to the next step.
func (h *FailureHandler) Handle(ctx context.Context, fc FailureContext) error {
	critical := service.Classify(fc.Err) == service.KindCritical

	snapshot, err := json.Marshal(fc.Snapshot)
	if err != nil {
		snapshot = []byte(fmt.Sprintf(`{"marshal_error":%q}`, err.Error()))
	}
	record := &model.FailedCompensation{
		OrderID:         fc.OrderID,
		UserID:          fc.UserID,
		StepName:        fc.StepName,
		StepOrder:       fc.StepOrder,
		ErrorMessage:    fc.Err.Error(),
		StackTrace:      string(debug.Stack()),
		ContextSnapshot: snapshot,
	}
	if err := h.dlq.Insert(ctx, record); err != nil {
		// The DLQ write itself failing leaves no durable trace, which is
		// the worst outcome here. Log loudly and keep the original policy.
		log.Error().
			Err(err).
			Str("step", fc.StepName).
			Int64("user_id", fc.UserID).
			Msg("failed to persist compensation failure record")
	}

	if !critical {
		log.Warn().
			Err(fc.Err).
			Str("step", fc.StepName).
			Int64("user_id", fc.UserID).
			Msg("compensation failed, continuing with remaining steps")
		return nil
	}

	if err := h.alerts.NotifyCritical(ctx, fc.OrderID, fc.StepName); err != nil {
		log.Error().
			Err(err).
			Str("step", fc.StepName).
			Msg("critical compensation alert delivery failed")
	}

	return &CompensationError{StepName: fc.StepName, Err: fc.Err}
}
