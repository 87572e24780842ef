package handler

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
)

// CompensationStoreInterface defines the interface for the failed
// compensation dead-letter store.
type CompensationStoreInterface interface {
	ListPending(ctx context.Context, limit int) ([]model.FailedCompensation, error)
	MarkResolved(ctx context.Context, id int64) error
}

// CompensationHandler is the operator surface over the failed-compensation
// dead letters: list what needs manual remediation, close what has been
// remediated.
type CompensationHandler struct {
	store CompensationStoreInterface
}

// NewCompensationHandler creates a new CompensationHandler.
func NewCompensationHandler(store CompensationStoreInterface) *CompensationHandler {
	return &CompensationHandler{store: store}
}

const maxCompensationPageSize = 500

// ListPending handles GET /api/admin/compensations requests. Returns
// unresolved records oldest first, capped by the limit query parameter.
func (h *CompensationHandler) ListPending(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > maxCompensationPageSize {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request: limit must be between 1 and 500",
		})
	}

	records, err := h.store.ListPending(c.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list pending compensations")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}
	if records == nil {
		records = []model.FailedCompensation{}
	}

	return c.JSON(fiber.Map{
		"compensations": records,
		"count":         len(records),
	})
}

// Resolve handles POST /api/admin/compensations/:id/resolve requests.
// Resolving an already-resolved record is a no-op.
func (h *CompensationHandler) Resolve(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request: id must be a positive integer",
		})
	}

	if err := h.store.MarkResolved(c.Context(), id); err != nil {
		log.Error().Err(err).Int64("compensation_id", id).Msg("failed to resolve compensation")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	log.Info().Int64("compensation_id", id).Msg("failed compensation resolved")
	return c.JSON(fiber.Map{
		"id":     id,
		"status": string(model.CompensationResolved),
	})
}
