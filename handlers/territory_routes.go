// handlers/territory_routes.go
package handlers

import (
	"territory-run-system/middleware"
	"territory-run-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupTerritoryRoutes(app *fiber.App, territoryService *services.TerritoryService, miningService *services.MiningService) {
	// 🔓 Public route — map view, no user context needed
	app.Get("/territories", territoryService.ListTerritories)

	// 🔐 Secured routes — user context attached per route, so public routes
	// registered elsewhere are never caught by it
	userCtx := middleware.UserContextMiddleware()

	app.Post("/territories/assign", userCtx, territoryService.AssignTerritories)
	app.Post("/territories/mine", userCtx, miningService.MineTerritoryCoins)
}
