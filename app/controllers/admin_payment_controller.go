package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/StudioDesk/internal/pkg/paymentplan"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/scheduler"
)

// TickTrigger runs a manual tick. *scheduler.Manager implements it.
type TickTrigger interface {
	RunNow(ctx context.Context) (paymentplan.TickReport, error)
	IsRunning() bool
}

// AdminPaymentController exposes the manual tick and the tick statistics.
type AdminPaymentController struct {
	ticks TickTrigger
	stats scheduler.StatsReader
}

// NewAdminPaymentController builds the controller. stats may be nil when no
// cache is configured.
func NewAdminPaymentController(ticks TickTrigger, stats scheduler.StatsReader) *AdminPaymentController {
	return &AdminPaymentController{ticks: ticks, stats: stats}
}

// HandleRunTick - POST /api/v1/admin/payments/tick
func (ac *AdminPaymentController) HandleRunTick(c *fiber.Ctx) error {
	log.Infof("[API] Manual payment tick requested from %s", GetClientIP(c))
	report, err := ac.ticks.RunNow(c.UserContext())
	if errors.Is(err, scheduler.ErrTickInProgress) {
		return c.Status(fiber.StatusConflict).JSON(errorResponse{Error: "tick_in_progress", Message: err.Error()})
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(report)
}

// HandleTickStats - GET /api/v1/admin/payments/tick/stats
func (ac *AdminPaymentController) HandleTickStats(c *fiber.Ctx) error {
	if ac.stats == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorResponse{Error: "stats_unavailable", Message: "tick stats are not configured"})
	}
	snap, err := ac.stats.Snapshot(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"scheduler_running": ac.ticks.IsRunning(),
		"counters":          snap.Counters,
		"last":              snap.Last,
	})
}
