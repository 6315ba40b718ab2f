package router

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"github.com/trackmystartup/tms-payments/internal/pkg/env"
)

// MetricsRouter serves the fiber monitor behind basic auth. Without
// credentials the route is not registered at all.
type MetricsRouter struct {
	user     string
	password string
}

func (h MetricsRouter) InstallRouter(app *fiber.App) {
	if h.user == "" || h.password == "" {
		log.Warn("[Router] METRICS_USER/METRICS_PASSWORD not set, /metrics disabled")
		return
	}

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{h.user: h.password},
	}), monitor.New())
}

func NewMetricsRouter() *MetricsRouter {
	return &MetricsRouter{
		user:     strings.TrimSpace(env.GetEnv("METRICS_USER", "")),
		password: env.GetEnv("METRICS_PASSWORD", ""),
	}
}
