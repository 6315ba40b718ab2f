package router

import (
	"github.com/gofiber/fiber/v2"
)

// Router registers a group of routes on the application.
type Router interface {
	InstallRouter(app *fiber.App)
}

func InstallRouter(app *fiber.App) {
	setup(app, NewMetricsRouter(), NewDocsRouter(), NewApiRouter())
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
