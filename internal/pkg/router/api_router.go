package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/StudioDesk/app/controllers"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/middleware"
)

// Dependencies are the controllers and middleware settings of the API.
type Dependencies struct {
	Plans    *controllers.PaymentPlanController
	Admin    *controllers.AdminPaymentController
	Webhooks *controllers.PaymentWebhookController

	// LimiterStorage backs the rate limiter; nil keeps counters in memory.
	LimiterStorage fiber.Storage
	RateLimit      int
	AdminUsers     map[string]string
	// APIKeys guard the back-office routes; empty leaves them open.
	APIKeys []string
}

type ApiRouter struct {
	deps Dependencies
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	if deps.RateLimit <= 0 {
		deps.RateLimit = 60
	}
	return &ApiRouter{deps: deps}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api")
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "StudioDesk payments api",
		})
	})

	v1 := api.Group("/v1")

	// Gateway callbacks are not rate limited; Midtrans retries aggressively.
	v1.Post("/webhooks/midtrans", h.deps.Webhooks.HandleMidtransNotification)

	limited := v1.Group("", limiter.New(limiter.Config{
		Max:        h.deps.RateLimit,
		Expiration: time.Minute,
		Storage:    h.deps.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "too many requests",
			})
		},
	}))

	var backOffice []fiber.Handler
	if len(h.deps.APIKeys) > 0 {
		backOffice = append(backOffice, middleware.APIKeyAuthMiddleware(h.deps.APIKeys))
	}

	plans := limited.Group("/payment-plans", backOffice...)
	plans.Post("/", h.deps.Plans.HandleCreatePlan)
	plans.Get("/:sessionId", h.deps.Plans.HandleGetPlan)
	plans.Post("/:sessionId/cancel", h.deps.Plans.HandleCancelPlan)

	payments := limited.Group("/payments", backOffice...)
	payments.Post("/:id/received", h.deps.Plans.HandleMarkReceived)
	payments.Post("/:id/invoice", h.deps.Plans.HandleSendInvoice)
	payments.Post("/:id/tip", h.deps.Plans.HandleAddTip)

	customers := limited.Group("/customers", backOffice...)
	customers.Put("/:userId/billing-account", h.deps.Plans.HandleUpsertBillingAccount)

	admin := limited.Group("/admin/payments", basicauth.New(basicauth.Config{
		Authorizer: middleware.AdminAuthorizer(h.deps.AdminUsers),
		Realm:      "StudioDesk Admin",
	}))
	admin.Post("/tick", h.deps.Admin.HandleRunTick)
	admin.Get("/tick/stats", h.deps.Admin.HandleTickStats)
}
