package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/scalable-order-system/internal/model"
	"github.com/fairyhunter13/scalable-order-system/internal/saga"
	"github.com/fairyhunter13/scalable-order-system/internal/service"
	"github.com/fairyhunter13/scalable-order-system/internal/validator"
)

// mockOrderService is a mock implementation of OrderServiceInterface.
type mockOrderService struct {
	placeOrderFn  func(ctx context.Context, req *model.PlaceOrderRequest) (int64, error)
	cancelOrderFn func(ctx context.Context, orderID, actingUserID int64) (*model.CancelReport, error)
}

func (m *mockOrderService) PlaceOrder(ctx context.Context, req *model.PlaceOrderRequest) (int64, error) {
	if m.placeOrderFn != nil {
		return m.placeOrderFn(ctx, req)
	}
	return 0, nil
}

func (m *mockOrderService) CancelOrder(ctx context.Context, orderID, actingUserID int64) (*model.CancelReport, error) {
	if m.cancelOrderFn != nil {
		return m.cancelOrderFn(ctx, orderID, actingUserID)
	}
	return nil, nil
}

func setupOrderTestApp(mockSvc *mockOrderService) *fiber.App {
	app := fiber.New()
	h := NewOrderHandler(mockSvc, validator.New())
	app.Post("/api/orders", h.PlaceOrder)
	app.Post("/api/orders/:id/cancel", h.CancelOrder)
	return app
}

func TestPlaceOrder_Success(t *testing.T) {
	mockSvc := &mockOrderService{
		placeOrderFn: func(ctx context.Context, req *model.PlaceOrderRequest) (int64, error) {
			return 42, nil
		},
	}
	app := setupOrderTestApp(mockSvc)

	body := `{"user_id": 9, "items": [{"option_id": 11, "quantity": 2}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var result map[string]int64
	err = json.NewDecoder(resp.Body).Decode(&result)
	require.NoError(t, err)
	assert.Equal(t, int64(42), result["order_id"])
}

func TestPlaceOrder_MissingUserID(t *testing.T) {
	app := setupOrderTestApp(&mockOrderService{})

	body := `{"items": [{"option_id": 11, "quantity": 2}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	var result map[string]string
	err = json.NewDecoder(resp.Body).Decode(&result)
	require.NoError(t, err)
	assert.Equal(t, "invalid request: user_id is required", result["error"])
}

func TestPlaceOrder_EmptyItems(t *testing.T) {
	app := setupOrderTestApp(&mockOrderService{})

	body := `{"user_id": 9, "items": []}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	var result map[string]string
	err = json.NewDecoder(resp.Body).Decode(&result)
	require.NoError(t, err)
	assert.Equal(t, "invalid request: items must contain at least one entry", result["error"])
}

func TestPlaceOrder_ZeroQuantity(t *testing.T) {
	app := setupOrderTestApp(&mockOrderService{})

	body := `{"user_id": 9, "items": [{"option_id": 11, "quantity": 0}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	var result map[string]string
	err = json.NewDecoder(resp.Body).Decode(&result)
	require.NoError(t, err)
	assert.Equal(t, "invalid request: quantity must be at least 1", result["error"])
}

func TestPlaceOrder_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"user not found", service.ErrUserNotFound, fiber.StatusNotFound, "user not found"},
		{"product not found", service.ErrProductNotFound, fiber.StatusNotFound, "product not found"},
		{"coupon not found", service.ErrCouponNotFound, fiber.StatusNotFound, "coupon not found"},
		{"insufficient stock", service.ErrInsufficientStock, fiber.StatusConflict, "insufficient stock"},
		{"insufficient balance", service.ErrInsufficientBalance, fiber.StatusConflict, "insufficient balance"},
		{"coupon used", service.ErrCouponInvalid, fiber.StatusBadRequest, "coupon not usable"},
		{"coupon expired", service.ErrCouponExpired, fiber.StatusBadRequest, "coupon not usable"},
		{"unknown", errors.New("boom"), fiber.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mockSvc := &mockOrderService{
				placeOrderFn: func(ctx context.Context, req *model.PlaceOrderRequest) (int64, error) {
					return 0, tc.err
				},
			}
			app := setupOrderTestApp(mockSvc)

			body := `{"user_id": 9, "items": [{"option_id": 11, "quantity": 2}]}`
			req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(body))
			req.Header.Set("Content-Type", "application/json")

			resp, err := app.Test(req)
			require.NoError(t, err)

			assert.Equal(t, tc.wantStatus, resp.StatusCode)

			var result map[string]string
			err = json.NewDecoder(resp.Body).Decode(&result)
			require.NoError(t, err)
			assert.Equal(t, tc.wantError, result["error"])
		})
	}
}

func TestPlaceOrder_RetryExhaustionIsServiceUnavailable(t *testing.T) {
	mockSvc := &mockOrderService{
		placeOrderFn: func(ctx context.Context, req *model.PlaceOrderRequest) (int64, error) {
			return 0, service.ErrOrderCreationFailed
		},
	}
	app := setupOrderTestApp(mockSvc)

	body := `{"user_id": 9, "items": [{"option_id": 11, "quantity": 2}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	var result map[string]string
	err = json.NewDecoder(resp.Body).Decode(&result)
	require.NoError(t, err)
	assert.Equal(t, "order creation failed, please retry", result["error"])
}

func TestPlaceOrder_CompensationFailureIsOpaque(t *testing.T) {
	mockSvc := &mockOrderService{
		placeOrderFn: func(ctx context.Context, req *model.PlaceOrderRequest) (int64, error) {
			return 0, &saga.CompensationError{
				StepName: "DeductInventoryStep",
				Err:      errors.New("connection reset"),
			}
		},
	}
	app := setupOrderTestApp(mockSvc)

	body := `{"user_id": 9, "items": [{"option_id": 11, "quantity": 2}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	var result map[string]string
	err = json.NewDecoder(resp.Body).Decode(&result)
	require.NoError(t, err)
	assert.Equal(t, "internal server error", result["error"], "compensation details stay out of the response")
}

func TestCancelOrder_Success(t *testing.T) {
	mockSvc := &mockOrderService{
		cancelOrderFn: func(ctx context.Context, orderID, actingUserID int64) (*model.CancelReport, error) {
			assert.Equal(t, int64(42), orderID)
			assert.Equal(t, int64(9), actingUserID)
			return &model.CancelReport{
				OrderID:        orderID,
				RefundedAmount: 18_000,
				RestoredItems:  1,
				CouponReverted: true,
			}, nil
		},
	}
	app := setupOrderTestApp(mockSvc)

	body := `{"user_id": 9}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders/42/cancel", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var report model.CancelReport
	err = json.NewDecoder(resp.Body).Decode(&report)
	require.NoError(t, err)
	assert.Equal(t, int64(42), report.OrderID)
	assert.Equal(t, int64(18_000), report.RefundedAmount)
	assert.True(t, report.CouponReverted)
}

func TestCancelOrder_BadID(t *testing.T) {
	app := setupOrderTestApp(&mockOrderService{})

	body := `{"user_id": 9}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders/abc/cancel", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestCancelOrder_NotFound(t *testing.T) {
	mockSvc := &mockOrderService{
		cancelOrderFn: func(ctx context.Context, orderID, actingUserID int64) (*model.CancelReport, error) {
			return nil, service.ErrOrderNotFound
		},
	}
	app := setupOrderTestApp(mockSvc)

	body := `{"user_id": 9}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders/42/cancel", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestCancelOrder_NotCancellable(t *testing.T) {
	mockSvc := &mockOrderService{
		cancelOrderFn: func(ctx context.Context, orderID, actingUserID int64) (*model.CancelReport, error) {
			return nil, service.ErrOrderNotCancellable
		},
	}
	app := setupOrderTestApp(mockSvc)

	body := `{"user_id": 9}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders/42/cancel", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	var result map[string]string
	err = json.NewDecoder(resp.Body).Decode(&result)
	require.NoError(t, err)
	assert.Equal(t, "order is not cancellable", result["error"])
}
