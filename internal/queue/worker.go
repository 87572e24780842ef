package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
	"github.com/fairyhunter13/scalable-order-system/internal/service"
)

// Issuer runs the transactional issuance core for one request.
type Issuer interface {
	IssueOne(ctx context.Context, userID, couponID int64) (*model.UserCouponView, error)
}

// StatusWriter records request outcomes for the polling endpoint.
type StatusWriter interface {
	SetCompleted(ctx context.Context, requestID string, enqueuedAt time.Time, result *model.UserCouponView) error
	SetFailed(ctx context.Context, requestID string, enqueuedAt time.Time, reason string) error
	SetRetry(ctx context.Context, requestID string, enqueuedAt time.Time) error
}

// RetryQueue re-appends transient failures and parks exhausted requests.
type RetryQueue interface {
	Requeue(ctx context.Context, req *model.CouponRequest) error
	DeadLetter(ctx context.Context, req *model.CouponRequest) error
}

// Worker is the per-request policy of the issuance pipeline: run the
// transactional core, then map the outcome to a terminal status, a retry
// re-append, or the DLQ.
//
//   - business failure (out of stock, already issued, expired, inactive):
//     terminal FAILED, never retried
//   - transient failure below the retry cap: RetryCount+1, re-append to
//     the same partition tail
//   - transient failure at the cap: DLQ + terminal FAILED
type Worker struct {
	issuer     Issuer
	statuses   StatusWriter
	retries    RetryQueue
	maxRetries int
	deadline   time.Duration
}

// NewWorker creates a Worker.
func NewWorker(issuer Issuer, statuses StatusWriter, retries RetryQueue, maxRetries int, deadline time.Duration) *Worker {
	return &Worker{
		issuer:     issuer,
		statuses:   statuses,
		retries:    retries,
		maxRetries: maxRetries,
		deadline:   deadline,
	}
}

// Handle implements Handler. It returns an error only when the outcome
// could not be recorded anywhere durable; the record then stays
// uncommitted and is redelivered.
func (w *Worker) Handle(ctx context.Context, req *model.CouponRequest) error {
	issueCtx, cancel := context.WithTimeout(ctx, w.deadline)
	defer cancel()

	view, err := w.issuer.IssueOne(issueCtx, req.UserID, req.CouponID)
	if err == nil {
		if werr := w.statuses.SetCompleted(ctx, req.RequestID, req.EnqueuedAt, view); werr != nil {
			return fmt.Errorf("record completion for %s: %w", req.RequestID, werr)
		}
		return nil
	}

	switch service.Classify(err) {
	case service.KindBusiness, service.KindNotFound:
		if werr := w.statuses.SetFailed(ctx, req.RequestID, req.EnqueuedAt, err.Error()); werr != nil {
			return fmt.Errorf("record failure for %s: %w", req.RequestID, werr)
		}
		return nil
	default:
		return w.retry(ctx, req, err)
	}
}

func (w *Worker) retry(ctx context.Context, req *model.CouponRequest, cause error) error {
	req.RetryCount++
	if req.RetryCount < w.maxRetries {
		log.Warn().
			Err(cause).
			Str("request_id", req.RequestID).
			Int("retry_count", req.RetryCount).
			Msg("transient issuance failure, re-appending")
		if err := w.retries.Requeue(ctx, req); err != nil {
			return fmt.Errorf("requeue %s: %w", req.RequestID, err)
		}
		// Best-effort visibility for pollers; the requeued record is the
		// durable state.
		if err := w.statuses.SetRetry(ctx, req.RequestID, req.EnqueuedAt); err != nil {
			log.Warn().Err(err).Str("request_id", req.RequestID).Msg("failed to record retry status")
		}
		return nil
	}

	if err := w.retries.DeadLetter(ctx, req); err != nil {
		return fmt.Errorf("dead-letter %s: %w", req.RequestID, err)
	}
	if err := w.statuses.SetFailed(ctx, req.RequestID, req.EnqueuedAt, service.ErrRetryExhausted.Error()); err != nil {
		return fmt.Errorf("record exhaustion for %s: %w", req.RequestID, err)
	}
	return nil
}
