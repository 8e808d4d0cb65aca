package server

import (
	"github.com/gofiber/fiber/v2"

	"downloader/internal/catalog"
	"downloader/internal/core/download"
	"downloader/internal/health"
	"downloader/internal/platform/redis"
)

type Dependencies struct {
	Download *download.Service
	Store    *catalog.Store
	Redis    *redis.Service // may be nil
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.HealthHandler {
	healthHandler := health.NewHealthHandler(d.Store, d.Redis)
	app.Get("/v1/health", health.HealthLimiter(), healthHandler.HandleHealth)

	api := app.Group("/v1")

	h := download.NewHandler(d.Download)
	api.Post("/downloads", h.HandleCreate)
	api.Get("/downloads", h.HandleList)
	api.Get("/downloads/:jobId", h.HandleGet)
	api.Delete("/downloads/:jobId", h.HandleCancel)
	api.Get("/metadata", h.HandleMetadata)

	return healthHandler
}
