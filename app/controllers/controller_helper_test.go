package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/StudioDesk/app/models"
	"github.com/ManuelReschke/StudioDesk/app/repository"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/billing"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/paymentplan"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	_, scheduleErr := paymentplan.BuildSchedule(decimal.NewFromInt(100),
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), models.FrequencyMonthly)
	require.Error(t, scheduleErr)

	cases := []struct {
		err    error
		status int
		code   string
	}{
		{scheduleErr, fiber.StatusBadRequest, "invalid_schedule"},
		{fmt.Errorf("%w: session_id", paymentplan.ErrInvalidInput), fiber.StatusBadRequest, "invalid_input"},
		{paymentplan.ErrPlanNotFound, fiber.StatusNotFound, "plan_not_found"},
		{paymentplan.ErrPaymentNotFound, fiber.StatusNotFound, "payment_not_found"},
		{paymentplan.ErrAlreadyPaid, fiber.StatusConflict, "already_paid"},
		{paymentplan.ErrPlanExists, fiber.StatusConflict, "plan_exists"},
		{fmt.Errorf("lost: %w", repository.ErrConcurrentModification), fiber.StatusConflict, "concurrent_modification"},
		{paymentplan.ErrIllegalTransition, fiber.StatusConflict, "illegal_transition"},
		{billing.NewGatewayError(billing.KindGatewayUnavailable, errors.New("502"), "down"), fiber.StatusServiceUnavailable, "gateway_unavailable"},
		{billing.NewGatewayError(billing.KindCustomerNotReady, nil, "no email"), fiber.StatusUnprocessableEntity, "customer_not_ready"},
		{billing.NewGatewayError(billing.KindPermanentRejection, nil, "bad amount"), fiber.StatusUnprocessableEntity, "permanent_rejection"},
		{errors.New("disk full"), fiber.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return respondError(c, tc.err) })

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil), -1)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)

			var body errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tc.code, body.Error)
			if tc.status == fiber.StatusInternalServerError {
				assert.Equal(t, "internal error", body.Message)
			}
		})
	}
}

func TestGetClientIP(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(GetClientIP(c)) })

	read := func(headers map[string]string) string {
		req := httptest.NewRequest("GET", "/", nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(body)
	}

	assert.Equal(t, "203.0.113.9", read(map[string]string{"CF-Connecting-IP": "203.0.113.9", "X-Forwarded-For": "10.0.0.1"}))
	assert.Equal(t, "198.51.100.4", read(map[string]string{"X-Forwarded-For": "198.51.100.4, 10.0.0.1"}))
	assert.Equal(t, "192.0.2.1", read(map[string]string{"X-Real-IP": "192.0.2.1"}))
}
