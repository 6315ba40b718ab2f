package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	flog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/trackmystartup/tms-payments/app/controllers"
	"github.com/trackmystartup/tms-payments/app/repository"
	"github.com/trackmystartup/tms-payments/internal/pkg/billing"
	"github.com/trackmystartup/tms-payments/internal/pkg/cache"
	"github.com/trackmystartup/tms-payments/internal/pkg/database"
	"github.com/trackmystartup/tms-payments/internal/pkg/env"
	"github.com/trackmystartup/tms-payments/internal/pkg/router"
	"github.com/trackmystartup/tms-payments/internal/pkg/s3archive"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "3001")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	repository.InitializeFactory(database.GetDB())

	opts := billing.Options{
		Resolver: billing.NewIdentityResolver(repository.GetGlobalFactory().GetProfileRepository()),
		Lock:     billing.NewLocalPaymentLock(),
	}
	if cache.Configured() {
		cache.SetupCache()
		opts.Lock = billing.NewRedisPaymentLock(cache.GetClient())
	}
	if archive := setupArchive(); archive != nil {
		opts.Archive = archive
	}
	controllers.InitializePaymentController(billing.NewService(database.GetDB(), opts))

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName:      "tms-payments",
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: controllers.ErrorHandler,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// ROUTER
	router.InstallRouter(app)

	return app
}

// setupArchive returns nil when webhook archiving is disabled or the bucket is
// unreachable; payloads then stay in the database only.
func setupArchive() *s3archive.Client {
	cfg, err := s3archive.LoadConfig()
	if err != nil {
		flog.Errorf("[S3Archive] Invalid configuration: %v", err)
		return nil
	}
	if !cfg.IsEnabled() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := s3archive.NewClient(ctx, cfg)
	if err != nil {
		flog.Errorf("[S3Archive] Disabled: %v", err)
		return nil
	}
	return client
}
