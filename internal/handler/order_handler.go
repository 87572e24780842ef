package handler

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
	"github.com/fairyhunter13/scalable-order-system/internal/saga"
	"github.com/fairyhunter13/scalable-order-system/internal/service"
)

// OrderServiceInterface defines the interface for order business logic.
type OrderServiceInterface interface {
	PlaceOrder(ctx context.Context, req *model.PlaceOrderRequest) (int64, error)
	CancelOrder(ctx context.Context, orderID, actingUserID int64) (*model.CancelReport, error)
}

// OrderHandler handles HTTP requests for order operations.
type OrderHandler struct {
	service   OrderServiceInterface
	validator *validator.Validate
}

// NewOrderHandler creates a new OrderHandler with the given service and validator.
func NewOrderHandler(svc OrderServiceInterface, v *validator.Validate) *OrderHandler {
	return &OrderHandler{service: svc, validator: v}
}

// formatOrderValidationError converts validator errors to stable API messages.
func formatOrderValidationError(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			field := fe.Field()
			tag := fe.Tag()

			switch field {
			case "UserID":
				if tag == "required" {
					return "invalid request: user_id is required"
				}
				return "invalid request: user_id is invalid"
			case "Items":
				if tag == "required" || tag == "min" {
					return "invalid request: items must contain at least one entry"
				}
				return "invalid request: items is invalid"
			case "OptionID":
				return "invalid request: option_id is invalid"
			case "Quantity":
				return "invalid request: quantity must be at least 1"
			case "CouponID":
				return "invalid request: coupon_id is invalid"
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

// PlaceOrder handles POST /api/orders requests. A successful response means
// the whole saga committed; any failure response means every partial effect
// has been rolled back (or escalated, for compensation failures).
func (h *OrderHandler) PlaceOrder(c *fiber.Ctx) error {
	var req model.PlaceOrderRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatOrderValidationError(err)})
	}

	orderID, err := h.service.PlaceOrder(c.Context(), &req)
	if err != nil {
		return h.placeOrderError(c, &req, err)
	}

	log.Info().
		Int64("order_id", orderID).
		Int64("user_id", req.UserID).
		Int("items", len(req.Items)).
		Msg("order placed")

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"order_id": orderID})
}

func (h *OrderHandler) placeOrderError(c *fiber.Ctx, req *model.PlaceOrderRequest, err error) error {
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
	case errors.Is(err, service.ErrProductNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "product not found"})
	case errors.Is(err, service.ErrCouponNotFound), errors.Is(err, service.ErrUserCouponNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "coupon not found"})
	case errors.Is(err, service.ErrInsufficientStock):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "insufficient stock"})
	case errors.Is(err, service.ErrInsufficientBalance):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "insufficient balance"})
	case errors.Is(err, service.ErrCouponInvalid),
		errors.Is(err, service.ErrCouponExpired),
		errors.Is(err, service.ErrCouponInactive):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "coupon not usable"})
	case errors.Is(err, service.ErrInvalidRequest):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	case errors.Is(err, service.ErrOrderCreationFailed):
		log.Error().Err(err).Int64("user_id", req.UserID).Msg("order creation failed after retries")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "order creation failed, please retry"})
	}

	var compErr *saga.CompensationError
	if errors.As(err, &compErr) {
		// Already alerted and recorded durably by the failure handler; the
		// caller just gets an opaque failure.
		log.Error().Err(err).Int64("user_id", req.UserID).Msg("order failed with unrecovered compensation")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	log.Error().Err(err).Int64("user_id", req.UserID).Msg("failed to place order")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
}

// CancelOrder handles POST /api/orders/:id/cancel requests.
func (h *OrderHandler) CancelOrder(c *fiber.Ctx) error {
	orderID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || orderID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request: id must be a positive integer",
		})
	}

	var req model.CancelOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatOrderValidationError(err)})
	}

	report, err := h.service.CancelOrder(c.Context(), orderID, req.UserID)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order not found"})
		}
		if errors.Is(err, service.ErrOrderNotCancellable) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "order is not cancellable"})
		}
		log.Error().
			Err(err).
			Int64("order_id", orderID).
			Int64("user_id", req.UserID).
			Msg("failed to cancel order")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.JSON(report)
}
