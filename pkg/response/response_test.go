package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		send   func(c *fiber.Ctx) error
		status int
		code   string
	}{
		{"validation", func(c *fiber.Ctx) error { return ValidationError(c, "bad", fiber.Map{"videoUrl": "required"}) }, http.StatusBadRequest, CodeValidationError},
		{"unauthorized", func(c *fiber.Ctx) error { return Unauthorized(c, "no token") }, http.StatusUnauthorized, CodeUnauthorized},
		{"not found", func(c *fiber.Ctx) error { return NotFound(c, "Job not found") }, http.StatusNotFound, CodeNotFound},
		{"rate limited", RateLimited, http.StatusTooManyRequests, CodeRateLimited},
		{"conflict", func(c *fiber.Ctx) error { return Conflict(c, "done") }, http.StatusConflict, CodeConflict},
		{"service error", func(c *fiber.Ctx) error { return ServiceError(c, "boom") }, http.StatusInternalServerError, CodeServiceError},
		{"not configured", func(c *fiber.Ctx) error { return NotConfigured(c, "off") }, http.StatusServiceUnavailable, CodeNotConfigured},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", tt.send)

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
			require.NoError(t, err)
			defer resp.Body.Close()

			var body ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestSuccessHelpers(t *testing.T) {
	app := fiber.New()
	app.Get("/ok", func(c *fiber.Ctx) error { return OK(c, fiber.Map{"jobId": "job-1"}) })
	app.Get("/accepted", func(c *fiber.Ctx) error { return Accepted(c, fiber.Map{"jobId": "job-1"}) })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ok", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/accepted", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}
