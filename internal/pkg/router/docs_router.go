package router

import (
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// DocsRouter serves the OpenAPI document and the swagger UI.
type DocsRouter struct {
	specPath string
}

func (h DocsRouter) InstallRouter(app *fiber.App) {
	if h.specPath == "" {
		log.Warn("[Router] openapi.yml not found, API docs disabled")
		return
	}

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: h.specPath,
		Path:     "v1",
		Title:    "TrackMyStartup Payments API",
	}
	app.Use(swagger.New(openAPICfg))
}

func NewDocsRouter() *DocsRouter {
	return &DocsRouter{specPath: FindOpenAPISpec()}
}

// FindOpenAPISpec looks for the OpenAPI document relative to the usual
// working directories.
func FindOpenAPISpec() string {
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/tms-payments to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		candidate := path + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
