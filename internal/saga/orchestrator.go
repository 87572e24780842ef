package saga

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/scalable-order-system/internal/service"
)

// Saga event types for the terminal OrderSagaEvent.
const (
	SagaCompleted          = "COMPLETED"
	SagaFailed             = "FAILED"
	SagaCompensationFailed = "COMPENSATION_FAILED"
)

// OrderSagaEvent is the terminal event emitted once per saga run.
type OrderSagaEvent struct {
	Type         string `json:"type"`
	OrderID      int64  `json:"order_id,omitempty"`
	UserID       int64  `json:"user_id"`
	FinalAmount  int64  `json:"final_amount,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// EventEmitter receives the terminal saga event. Emission is best-effort;
// the durable record of the outcome is the order row and the outbox.
type EventEmitter interface {
	Emit(ctx context.Context, event OrderSagaEvent)
}

// LogEmitter writes terminal saga events to the log.
type LogEmitter struct{}

// Emit implements EventEmitter.
func (LogEmitter) Emit(_ context.Context, event OrderSagaEvent) {
	log.Info().
		Str("type", event.Type).
		Int64("order_id", event.OrderID).
		Int64("user_id", event.UserID).
		Int64("final_amount", event.FinalAmount).
		Str("error", event.ErrorMessage).
		Msg("order saga finished")
}

// Retry policy for conflict/transient step failures.
const (
	stepRetryInitial = 50 * time.Millisecond
	stepMaxRetries   = 3
)

// Orchestrator executes the saga steps in ascending order and, on failure,
// compensates the execution trail in strict LIFO.
type Orchestrator struct {
	steps   []Step
	handler *FailureHandler
	emitter EventEmitter
}

// NewOrchestrator builds an orchestrator over the given steps. The step
// list is sorted by Order(); duplicate orders are a configuration error
// and fail construction.
func NewOrchestrator(steps []Step, handler *FailureHandler, emitter EventEmitter) (*Orchestrator, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("saga requires at least one step")
	}
	if emitter == nil {
		emitter = LogEmitter{}
	}

	sorted := make([]Step, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order() < sorted[j].Order() })

	seen := make(map[int]string, len(sorted))
	for _, st := range sorted {
		if prev, ok := seen[st.Order()]; ok {
			return nil, fmt.Errorf("duplicate step order %d: %s and %s", st.Order(), prev, st.Name())
		}
		seen[st.Order()] = st.Name()
	}

	return &Orchestrator{steps: sorted, handler: handler, emitter: emitter}, nil
}

// Execute runs the saga over the snapshot. On success it returns the new
// order id. On failure it compensates the execution trail, emits a FAILED
// or COMPENSATION_FAILED terminal event, and returns the step error
// (transient failures degrade to service.ErrOrderCreationFailed).
func (o *Orchestrator) Execute(ctx context.Context, snap *Snapshot) (int64, error) {
	for _, step := range o.steps {
		if err := o.executeStep(ctx, step, snap); err != nil {
			log.Error().
				Err(err).
				Str("step", step.Name()).
				Int64("user_id", snap.UserID).
				Strs("trail", snap.Trail()).
				Msg("saga step failed, entering compensation")
			return 0, o.fail(ctx, snap, err)
		}
		snap.RecordExecuted(step.Name())
	}

	o.emitter.Emit(ctx, OrderSagaEvent{
		Type:        SagaCompleted,
		OrderID:     snap.OrderID,
		UserID:      snap.UserID,
		FinalAmount: snap.FinalAmount,
	})
	return snap.OrderID, nil
}

// executeStep runs one forward step, retrying conflict and transient
// failures with exponential backoff (50, 100, 200 ms) before giving up.
// Panics inside a step are converted to errors so compensation still runs.
func (o *Orchestrator) executeStep(ctx context.Context, step Step, snap *Snapshot) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(newStepBackoff(), stepMaxRetries),
		ctx,
	)

	return backoff.Retry(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = backoff.Permanent(fmt.Errorf("step %s panicked: %v", step.Name(), r))
			}
		}()
		if err := step.Execute(ctx, snap); err != nil {
			if service.Retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}, policy)
}

func newStepBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = stepRetryInitial
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 8 * stepRetryInitial
	return b
}

// fail compensates the trail and shapes the terminal event and error.
func (o *Orchestrator) fail(ctx context.Context, snap *Snapshot, stepErr error) error {
	compErr := o.compensate(ctx, snap)

	eventType := SagaFailed
	retErr := stepErr
	if compErr != nil {
		eventType = SagaCompensationFailed
		retErr = compErr
	} else if service.Classify(stepErr) == service.KindTransient {
		// Retry budget is spent; degrade to the business-level failure.
		retErr = fmt.Errorf("%w: %v", service.ErrOrderCreationFailed, stepErr)
	}

	o.emitter.Emit(ctx, OrderSagaEvent{
		Type:         eventType,
		OrderID:      snap.OrderID,
		UserID:       snap.UserID,
		ErrorMessage: retErr.Error(),
	})
	return retErr
}

// compensate walks the execution trail in reverse, invoking each step's
// Compensate. Failures go through the failure handler: critical ones halt
// the walk, the rest are recorded and skipped.
func (o *Orchestrator) compensate(ctx context.Context, snap *Snapshot) error {
	byName := make(map[string]Step, len(o.steps))
	for _, st := range o.steps {
		byName[st.Name()] = st
	}

	trail := snap.Trail()
	for i := len(trail) - 1; i >= 0; i-- {
		step, ok := byName[trail[i]]
		if !ok {
			// Trail entries always come from o.steps; a miss means the
			// configuration changed mid-flight.
			log.Error().Str("step", trail[i]).Msg("trail references unknown step, skipping")
			continue
		}

		err := o.compensateStep(ctx, step, snap)
		if err == nil {
			log.Info().
				Str("step", step.Name()).
				Int64("user_id", snap.UserID).
				Msg("compensation succeeded")
			continue
		}

		var orderID *int64
		if snap.OrderID != 0 {
			id := snap.OrderID
			orderID = &id
		}
		if handled := o.handler.Handle(ctx, FailureContext{
			OrderID:   orderID,
			UserID:    snap.UserID,
			StepName:  step.Name(),
			StepOrder: step.Order(),
			Err:       err,
			Snapshot:  snap,
		}); handled != nil {
			return handled
		}
	}
	return nil
}

func (o *Orchestrator) compensateStep(ctx context.Context, step Step, snap *Snapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = service.Critical(fmt.Errorf("compensation of %s panicked: %v", step.Name(), r))
		}
	}()
	return step.Compensate(ctx, snap)
}
