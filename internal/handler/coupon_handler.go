package handler

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
	"github.com/fairyhunter13/scalable-order-system/internal/service"
)

// CouponServiceInterface defines the interface for coupon business logic.
type CouponServiceInterface interface {
	Create(ctx context.Context, req *model.CreateCouponRequest) (*model.Coupon, error)
	GetByID(ctx context.Context, couponID int64) (*model.Coupon, error)
	Enqueue(ctx context.Context, userID, couponID int64) (string, error)
	Status(ctx context.Context, requestID string) (*model.AsyncStatus, error)
	IssueSync(ctx context.Context, userID, couponID int64) (*model.UserCouponView, error)
}

// CouponHandler handles HTTP requests for coupon operations.
type CouponHandler struct {
	service   CouponServiceInterface
	validator *validator.Validate
}

// NewCouponHandler creates a new CouponHandler with the given service and validator.
func NewCouponHandler(svc CouponServiceInterface, v *validator.Validate) *CouponHandler {
	return &CouponHandler{service: svc, validator: v}
}

// formatCouponValidationError converts validator errors to stable API messages.
func formatCouponValidationError(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			field := fe.Field()
			tag := fe.Tag()

			switch field {
			case "Name":
				if tag == "required" {
					return "invalid request: name is required"
				}
				if tag == "notblank" {
					return "invalid request: name cannot be whitespace only"
				}
				if tag == "max" {
					return "invalid request: name exceeds maximum length of 255"
				}
				return "invalid request: name is invalid"
			case "DiscountType":
				if tag == "required" {
					return "invalid request: discount_type is required"
				}
				return "invalid request: discount_type must be FIXED_AMOUNT or PERCENTAGE"
			case "DiscountRate":
				return "invalid request: discount_rate must be between 0 and 1"
			case "DiscountAmount":
				return "invalid request: discount_amount must be at least 0"
			case "TotalQty":
				if tag == "required" {
					return "invalid request: total_qty is required"
				}
				return "invalid request: total_qty must be at least 1"
			case "UserID":
				if tag == "required" {
					return "invalid request: user_id is required"
				}
				return "invalid request: user_id is invalid"
			case "CouponID":
				if tag == "required" {
					return "invalid request: coupon_id is required"
				}
				return "invalid request: coupon_id is invalid"
			case "ValidFrom":
				if tag == "required" {
					return "invalid request: valid_from is required"
				}
				return "invalid request: valid_from must be an RFC3339 timestamp"
			case "ValidUntil":
				if tag == "required" {
					return "invalid request: valid_until is required"
				}
				return "invalid request: valid_until must be an RFC3339 timestamp"
			default:
				if tag == "required" {
					return "invalid request: " + field + " is required"
				}
				return "invalid request: " + field + " is invalid"
			}
		}
	}
	return "invalid request"
}

// CreateCoupon handles POST /api/coupons requests to create a new coupon.
func (h *CouponHandler) CreateCoupon(c *fiber.Ctx) error {
	var req model.CreateCouponRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatCouponValidationError(err)})
	}

	coupon, err := h.service.Create(c.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrCouponExists) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "coupon already exists"})
		}
		if errors.Is(err, service.ErrInvalidRequest) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		log.Error().Err(err).Str("coupon_name", req.Name).Msg("failed to create coupon")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.Status(fiber.StatusCreated).JSON(coupon)
}

// GetCoupon handles GET /api/coupons/:id requests to retrieve coupon details.
func (h *CouponHandler) GetCoupon(c *fiber.Ctx) error {
	couponID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || couponID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request: id must be a positive integer",
		})
	}

	coupon, err := h.service.GetByID(c.Context(), couponID)
	if err != nil {
		if errors.Is(err, service.ErrCouponNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "coupon not found"})
		}
		log.Error().Err(err).Int64("coupon_id", couponID).Msg("failed to get coupon")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.JSON(coupon)
}

// IssueCoupon handles POST /api/coupons/issue requests. It enqueues the
// request to the issuance pipeline and returns 202 with the request id
// the caller polls for the outcome.
func (h *CouponHandler) IssueCoupon(c *fiber.Ctx) error {
	var req model.IssueCouponRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatCouponValidationError(err)})
	}

	requestID, err := h.service.Enqueue(c.Context(), req.UserID, req.CouponID)
	if err != nil {
		if errors.Is(err, service.ErrCouponNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "coupon not found"})
		}
		if errors.Is(err, service.ErrAlreadyIssued) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "coupon already issued to user"})
		}
		if errors.Is(err, service.ErrInvalidRequest) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		log.Error().
			Err(err).
			Int64("user_id", req.UserID).
			Int64("coupon_id", req.CouponID).
			Msg("failed to enqueue coupon request")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "issuance queue unavailable"})
	}

	return c.Status(fiber.StatusAccepted).JSON(model.EnqueueResponse{RequestID: requestID})
}

// IssueStatus handles GET /api/coupons/requests/:request_id polling requests.
// Unknown request ids report status NOT_FOUND in the body with 200 rather
// than an HTTP error, so pollers can treat every response uniformly.
func (h *CouponHandler) IssueStatus(c *fiber.Ctx) error {
	requestID := c.Params("request_id")
	if requestID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request: request_id is required",
		})
	}

	status, err := h.service.Status(c.Context(), requestID)
	if err != nil {
		log.Error().Err(err).Str("request_id", requestID).Msg("failed to read issuance status")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.JSON(status)
}

// IssueCouponSync handles POST /api/coupons/issue/sync requests. It runs
// the issuance transaction inline instead of going through the queue.
func (h *CouponHandler) IssueCouponSync(c *fiber.Ctx) error {
	var req model.IssueCouponRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatCouponValidationError(err)})
	}

	view, err := h.service.IssueSync(c.Context(), req.UserID, req.CouponID)
	if err != nil {
		if errors.Is(err, service.ErrCouponNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "coupon not found"})
		}
		if errors.Is(err, service.ErrAlreadyIssued) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "coupon already issued to user"})
		}
		if errors.Is(err, service.ErrCouponOutOfStock) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "coupon out of stock"})
		}
		if errors.Is(err, service.ErrCouponExpired) || errors.Is(err, service.ErrCouponInactive) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "coupon not issuable"})
		}
		log.Error().
			Err(err).
			Int64("user_id", req.UserID).
			Int64("coupon_id", req.CouponID).
			Msg("failed to issue coupon")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.Status(fiber.StatusCreated).JSON(view)
}
