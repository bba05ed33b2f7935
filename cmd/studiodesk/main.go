package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuelReschke/StudioDesk/app/controllers"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/bootstrap"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/cache"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/database"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/env"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/middleware"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/router"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/scheduler"
)

func main() {
	app, manager := NewApplication()
	manager.Start()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	manager.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = app.ShutdownWithContext(ctx)
	_ = cache.Close()
}

func NewApplication() (*fiber.App, *scheduler.Manager) {
	env.SetupEnvFile()
	if env.IsDev() {
		fiberlog.SetLevel(fiberlog.LevelDebug)
	}
	database.SetupDatabase()
	cache.SetupCache()

	services := bootstrap.NewServices(database.GetDB())
	stats := scheduler.NewRedisStats(cache.GetClient())
	recorders := scheduler.MultiStats(stats, scheduler.NewPromStats(prometheus.DefaultRegisterer))
	manager := scheduler.NewManager(services.Plans, scheduler.LoadConfig(), scheduler.WithStats(recorders))

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	adminPassword := env.GetEnv("ADMIN_PASSWORD", "")
	if adminPassword == "" {
		// Unguessable password, so the admin routes stay closed.
		adminPassword = uuid.NewString()
		log.Println("ADMIN_PASSWORD not set, admin routes are disabled")
	}
	adminUsers := map[string]string{env.GetEnv("ADMIN_USER", "admin"): adminPassword}

	apiKeys := middleware.ParseAPIKeys(env.GetEnv("API_KEYS", ""))
	if len(apiKeys) == 0 {
		log.Println("API_KEYS not set, back-office routes are unauthenticated")
	}

	// fiber metrics
	adminAuth := basicauth.New(basicauth.Config{Authorizer: middleware.AdminAuthorizer(adminUsers)})
	app.Get("/metrics", adminAuth, monitor.New())
	app.Get("/metrics/prometheus", adminAuth, adaptor.HTTPHandler(promhttp.Handler()))

	router.InstallRouter(app, router.Dependencies{
		Plans:          controllers.NewPaymentPlanController(services.Plans, services.Billing),
		Admin:          controllers.NewAdminPaymentController(manager, stats),
		Webhooks:       controllers.NewPaymentWebhookController(services.Plans, services.Billing, services.Midtrans.ServerKey),
		LimiterStorage: router.NewLimiterStorage(),
		RateLimit:      env.GetInt("API_RATE_LIMIT", 60),
		AdminUsers:     adminUsers,
		APIKeys:        apiKeys,
	})

	return app, manager
}
