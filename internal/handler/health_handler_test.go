package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPinger is a mock implementation of Pinger.
type mockPinger struct {
	pingFn func(ctx context.Context) error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func setupHealthTestApp(db, cache *mockPinger) *fiber.App {
	app := fiber.New()
	h := NewHealthHandler(db, cache)
	app.Get("/health", h.Check)
	return app
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func TestHealthCheck_Healthy(t *testing.T) {
	app := setupHealthTestApp(&mockPinger{}, &mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result healthResponse
	err = json.NewDecoder(resp.Body).Decode(&result)
	require.NoError(t, err)
	assert.Equal(t, "healthy", result.Status)
	assert.Equal(t, "ok", result.Checks["database"])
	assert.Equal(t, "ok", result.Checks["redis"])
}

func TestHealthCheck_DatabaseDown(t *testing.T) {
	db := &mockPinger{
		pingFn: func(ctx context.Context) error {
			return errors.New("connection refused")
		},
	}
	app := setupHealthTestApp(db, &mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	var result healthResponse
	err = json.NewDecoder(resp.Body).Decode(&result)
	require.NoError(t, err)
	assert.Equal(t, "unhealthy", result.Status)
	assert.Equal(t, "unreachable", result.Checks["database"])
	assert.Equal(t, "ok", result.Checks["redis"], "the report still names the dependencies that answered")
}

func TestHealthCheck_RedisDown(t *testing.T) {
	cache := &mockPinger{
		pingFn: func(ctx context.Context) error {
			return errors.New("connection refused")
		},
	}
	app := setupHealthTestApp(&mockPinger{}, cache)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	var result healthResponse
	err = json.NewDecoder(resp.Body).Decode(&result)
	require.NoError(t, err)
	assert.Equal(t, "unhealthy", result.Status)
	assert.Equal(t, "unreachable", result.Checks["redis"])
}
