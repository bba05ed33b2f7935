package controllers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/StudioDesk/app/repository"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/billing"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/paymentplan"
)

const dateLayout = "2006-01-02"

// errorResponse is the JSON body of every failed API call.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// respondError maps service errors onto HTTP statuses.
func respondError(c *fiber.Ctx, err error) error {
	status, code := fiber.StatusInternalServerError, "internal_error"
	switch {
	case paymentplan.IsInvalidSchedule(err):
		status, code = fiber.StatusBadRequest, "invalid_schedule"
	case errors.Is(err, paymentplan.ErrInvalidInput):
		status, code = fiber.StatusBadRequest, "invalid_input"
	case errors.Is(err, paymentplan.ErrPlanNotFound):
		status, code = fiber.StatusNotFound, "plan_not_found"
	case errors.Is(err, paymentplan.ErrPaymentNotFound):
		status, code = fiber.StatusNotFound, "payment_not_found"
	case errors.Is(err, paymentplan.ErrAlreadyPaid):
		status, code = fiber.StatusConflict, "already_paid"
	case errors.Is(err, paymentplan.ErrPlanExists):
		status, code = fiber.StatusConflict, "plan_exists"
	case errors.Is(err, repository.ErrConcurrentModification):
		status, code = fiber.StatusConflict, "concurrent_modification"
	case errors.Is(err, paymentplan.ErrIllegalTransition):
		status, code = fiber.StatusConflict, "illegal_transition"
	case errors.Is(err, billing.ErrGatewayUnavailable):
		status, code = fiber.StatusServiceUnavailable, string(billing.KindGatewayUnavailable)
	case errors.Is(err, billing.ErrCustomerNotReady):
		status, code = fiber.StatusUnprocessableEntity, string(billing.KindCustomerNotReady)
	case errors.Is(err, billing.ErrPermanentRejection):
		status, code = fiber.StatusUnprocessableEntity, string(billing.KindPermanentRejection)
	}

	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		log.Errorf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
		msg = "internal error"
	}
	return c.Status(status).JSON(errorResponse{Error: code, Message: msg})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid_input", Message: msg})
}

// paramID parses a positive numeric route parameter.
func paramID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, strings.TrimSpace(s), time.UTC)
}

// GetClientIP returns the caller address, preferring proxy headers.
func GetClientIP(c *fiber.Ctx) string {
	if ip := strings.TrimSpace(c.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(c.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return strings.TrimPrefix(c.IP(), "::ffff:")
}
