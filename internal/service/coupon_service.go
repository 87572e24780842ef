package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
	"github.com/fairyhunter13/scalable-order-system/pkg/database"
)

// CouponRepositoryInterface defines the interface for coupon data access.
type CouponRepositoryInterface interface {
	Insert(ctx context.Context, coupon *model.Coupon) (int64, error)
	GetByID(ctx context.Context, couponID int64) (*model.Coupon, error)
	GetForUpdate(ctx context.Context, tx database.TxQuerier, couponID int64) (*model.Coupon, error)
	DecrementRemaining(ctx context.Context, tx database.TxQuerier, couponID int64) error
}

// UserCouponRepositoryInterface defines the interface for issued-coupon data access.
type UserCouponRepositoryInterface interface {
	Insert(ctx context.Context, tx database.TxQuerier, userID, couponID int64) (*model.UserCoupon, error)
	Exists(ctx context.Context, userID, couponID int64) (bool, error)
}

// OutboxWriterInterface writes outbox rows inside the issuance transaction.
type OutboxWriterInterface interface {
	Save(ctx context.Context, tx database.TxQuerier, msg *model.OutboxMessage) error
}

// RequestEnqueuer appends coupon requests to the partitioned log.
type RequestEnqueuer interface {
	Enqueue(ctx context.Context, req *model.CouponRequest) error
}

// StatusStore is the async status surface the service depends on.
type StatusStore interface {
	SetPending(ctx context.Context, requestID string, enqueuedAt time.Time) error
	Get(ctx context.Context, requestID string) (*model.AsyncStatus, error)
}

// TxBeginner defines the interface for beginning transactions.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CouponIssuedPayload is the outbox payload for downstream coupon
// notifications.
type CouponIssuedPayload struct {
	UserCouponID int64     `json:"user_coupon_id"`
	UserID       int64     `json:"user_id"`
	CouponID     int64     `json:"coupon_id"`
	IssuedAt     time.Time `json:"issued_at"`
}

// CouponService provides business logic for coupon provisioning and the
// issuance pipeline: the bounded-latency enqueue fast path, the polling
// surface, and the transactional issuance core shared by the partition
// workers and the synchronous variant.
type CouponService struct {
	pool           TxBeginner
	coupons        CouponRepositoryInterface
	userCoupons    UserCouponRepositoryInterface
	outbox         OutboxWriterInterface
	enqueuer       RequestEnqueuer
	statuses       StatusStore
	cache          *CouponCache
	enqueueTimeout time.Duration
	now            func() time.Time
}

// NewCouponService creates a CouponService. cache may be nil; the fast-path
// check then always hits the database.
func NewCouponService(
	pool TxBeginner,
	coupons CouponRepositoryInterface,
	userCoupons UserCouponRepositoryInterface,
	outbox OutboxWriterInterface,
	enqueuer RequestEnqueuer,
	statuses StatusStore,
	cache *CouponCache,
	enqueueTimeout time.Duration,
) *CouponService {
	return &CouponService{
		pool:           pool,
		coupons:        coupons,
		userCoupons:    userCoupons,
		outbox:         outbox,
		enqueuer:       enqueuer,
		statuses:       statuses,
		cache:          cache,
		enqueueTimeout: enqueueTimeout,
		now:            time.Now,
	}
}

// Create creates a new coupon definition from the request.
// Returns ErrCouponExists if a coupon with the same name already exists.
// Returns ErrInvalidRequest if request data is nil or incomplete.
func (s *CouponService) Create(ctx context.Context, req *model.CreateCouponRequest) (*model.Coupon, error) {
	// Defense-in-depth: check for nil pointer even though handler validates
	if req == nil || req.TotalQty == nil {
		return nil, ErrInvalidRequest
	}

	validFrom, err := time.Parse(time.RFC3339, req.ValidFrom)
	if err != nil {
		return nil, fmt.Errorf("%w: valid_from must be RFC3339", ErrInvalidRequest)
	}
	validUntil, err := time.Parse(time.RFC3339, req.ValidUntil)
	if err != nil {
		return nil, fmt.Errorf("%w: valid_until must be RFC3339", ErrInvalidRequest)
	}
	if !validUntil.After(validFrom) {
		return nil, fmt.Errorf("%w: valid_until must be after valid_from", ErrInvalidRequest)
	}

	coupon := &model.Coupon{
		Name:           req.Name,
		DiscountType:   model.DiscountType(req.DiscountType),
		DiscountAmount: req.DiscountAmount,
		DiscountRate:   req.DiscountRate,
		TotalQty:       *req.TotalQty,
		RemainingQty:   *req.TotalQty,
		ValidFrom:      validFrom,
		ValidUntil:     validUntil,
		IsActive:       true,
	}
	id, err := s.coupons.Insert(ctx, coupon)
	if err != nil {
		return nil, err
	}
	coupon.CouponID = id
	return coupon, nil
}

// GetByID retrieves a coupon definition.
func (s *CouponService) GetByID(ctx context.Context, couponID int64) (*model.Coupon, error) {
	return s.coupons.GetByID(ctx, couponID)
}

// Enqueue validates the request on a fast path, records a PENDING status,
// and appends the request to the partitioned log keyed by coupon id. The
// whole call is bounded by the configured enqueue timeout; the returned
// request id is the handle for polling.
func (s *CouponService) Enqueue(ctx context.Context, userID, couponID int64) (string, error) {
	if userID <= 0 || couponID <= 0 {
		return "", ErrInvalidRequest
	}

	ctx, cancel := context.WithTimeout(ctx, s.enqueueTimeout)
	defer cancel()

	// Fast-path reject for unknown coupons; the read-through cache keeps
	// this off the database during spikes.
	if _, err := s.lookupCoupon(ctx, couponID); err != nil {
		return "", err
	}

	// Fast-path reject for users who already hold the coupon. The unique
	// constraint inside the issuance transaction is the authoritative
	// guard; this only saves the wasted enqueue, so a failed check
	// degrades to enqueueing.
	if issued, err := s.userCoupons.Exists(ctx, userID, couponID); err != nil {
		log.Warn().Err(err).
			Int64("user_id", userID).
			Int64("coupon_id", couponID).
			Msg("issued-coupon precheck failed, enqueueing anyway")
	} else if issued {
		return "", ErrAlreadyIssued
	}

	requestID := uuid.NewString()
	enqueuedAt := s.now().UTC()

	if err := s.statuses.SetPending(ctx, requestID, enqueuedAt); err != nil {
		return "", fmt.Errorf("record pending status: %w", err)
	}

	req := &model.CouponRequest{
		RequestID:  requestID,
		UserID:     userID,
		CouponID:   couponID,
		EnqueuedAt: enqueuedAt,
	}
	if err := s.enqueuer.Enqueue(ctx, req); err != nil {
		return "", fmt.Errorf("append coupon request: %w", err)
	}

	log.Debug().
		Str("request_id", requestID).
		Int64("user_id", userID).
		Int64("coupon_id", couponID).
		Msg("coupon request enqueued")
	return requestID, nil
}

func (s *CouponService) lookupCoupon(ctx context.Context, couponID int64) (*model.Coupon, error) {
	if s.cache != nil {
		if coupon, ok := s.cache.Get(ctx, couponID); ok {
			return coupon, nil
		}
	}
	coupon, err := s.coupons.GetByID(ctx, couponID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Put(ctx, coupon)
	}
	return coupon, nil
}

// Status returns the async status for a request id. Unknown ids report
// NOT_FOUND rather than an error.
func (s *CouponService) Status(ctx context.Context, requestID string) (*model.AsyncStatus, error) {
	if requestID == "" {
		return nil, ErrInvalidRequest
	}
	return s.statuses.Get(ctx, requestID)
}

// IssueSync issues a coupon synchronously through the same transactional
// core the partition workers use. Intended for tests and low-volume callers.
func (s *CouponService) IssueSync(ctx context.Context, userID, couponID int64) (*model.UserCouponView, error) {
	return s.IssueOne(ctx, userID, couponID)
}

// IssueOne is the transactional issuance core: lock the coupon row, verify
// it is grantable, insert the user coupon, decrement the remaining
// quantity (deactivating on zero), and write the notification outbox row,
// all in one transaction. The unique (user_id, coupon_id) constraint makes
// the grant at-most-once per pair.
func (s *CouponService) IssueOne(ctx context.Context, userID, couponID int64) (*model.UserCouponView, error) {
	var view *model.UserCouponView

	err := database.RunInTx(ctx, s.pool, func(tx pgx.Tx) error {
		coupon, err := s.coupons.GetForUpdate(ctx, tx, couponID)
		if err != nil {
			return err
		}

		now := s.now()
		if !coupon.IsActive {
			return ErrCouponInactive
		}
		if now.Before(coupon.ValidFrom) || now.After(coupon.ValidUntil) {
			return ErrCouponExpired
		}
		if coupon.RemainingQty <= 0 {
			return ErrCouponOutOfStock
		}

		uc, err := s.userCoupons.Insert(ctx, tx, userID, couponID)
		if err != nil {
			return err
		}
		if err := s.coupons.DecrementRemaining(ctx, tx, couponID); err != nil {
			return err
		}

		payload, err := json.Marshal(CouponIssuedPayload{
			UserCouponID: uc.UserCouponID,
			UserID:       userID,
			CouponID:     couponID,
			IssuedAt:     uc.IssuedAt,
		})
		if err != nil {
			return fmt.Errorf("marshal coupon issued payload: %w", err)
		}
		if err := s.outbox.Save(ctx, tx, &model.OutboxMessage{
			UserID:      userID,
			MessageType: model.MessageCouponIssued,
			Payload:     payload,
		}); err != nil {
			return err
		}

		view = &model.UserCouponView{
			UserCouponID: uc.UserCouponID,
			CouponID:     couponID,
			CouponName:   coupon.Name,
			Status:       uc.Status,
			IssuedAt:     uc.IssuedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, couponID)
	}
	return view, nil
}
