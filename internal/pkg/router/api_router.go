package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/trackmystartup/tms-payments/app/controllers"
	"github.com/trackmystartup/tms-payments/internal/pkg/cache"
	"github.com/trackmystartup/tms-payments/internal/pkg/env"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	pc := controllers.GetPaymentController()

	// gateway webhooks are signature-verified in the controller and must not
	// share the per-IP limit, so they are registered ahead of the limiter
	app.Post("/api/razorpay/webhook", pc.HandleRazorpayWebhook)

	api := app.Group("/api", limiter.New(limiterConfig()))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "TrackMyStartup payments api",
		})
	})

	// checkout
	api.Post("/razorpay/create-order", pc.HandleCreateRazorpayOrder)
	api.Post("/razorpay/create-subscription", pc.HandleCreateRazorpaySubscription)
	api.Post("/paypal/create-order", pc.HandleCreatePayPalOrder)
	api.Post("/paypal/create-subscription", pc.HandleCreatePayPalSubscription)

	// verification
	api.Post("/payment/verify", pc.HandleVerifyPayment)
	api.Post("/payment/verify/razorpay", pc.HandleVerifyRazorpay)
	api.Post("/payment/verify/paypal", pc.HandleVerifyPayPal)

	// mandates
	api.Post("/razorpay/stop-autopay", pc.HandleStopAutopay)
	api.Post("/razorpay/cleanup-customer", pc.HandleCleanupCustomer)

	// advisor credits
	api.Post("/advisor/credits/add", pc.HandleAddAdvisorCredits)
	api.Get("/advisor/credits/:advisor_user_id", pc.HandleGetAdvisorCredits)

	api.Get("/subscriptions/:user_id/active", pc.HandleGetActiveSubscription)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

// limiterConfig keeps limiter counters in the cache when one is configured so
// every instance shares them; otherwise fiber's in-memory storage is used.
func limiterConfig() limiter.Config {
	limit, err := strconv.Atoi(env.GetEnv("API_RATE_LIMIT_PER_MINUTE", "120"))
	if err != nil || limit <= 0 {
		limit = 120
	}
	cfg := limiter.Config{
		Max:        limit,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return fiber.ErrTooManyRequests
		},
	}
	if !cache.Configured() {
		return cfg
	}

	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client := cache.GetClient(); client != nil {
		if h, p, err := net.SplitHostPort(client.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}

	// database 2 keeps limiter keys apart from the cache (0)
	cfg.Storage = redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 2,
		Reset:    false,
	})
	log.Infof("[Router] API limiter uses redis storage at %s:%d", host, port)
	return cfg
}
