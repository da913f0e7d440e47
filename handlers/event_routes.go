// handlers/event_routes.go
package handlers

import (
	"territory-run-system/middleware"
	"territory-run-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupEventRoutes(app *fiber.App, eventService *services.EventService, ticketService *services.TicketService) {
	// 🔓 Public routes — browsing needs no user context
	app.Get("/events", eventService.ListEvents)
	app.Get("/events/:id", eventService.GetEvent)

	// 🔐 Secured routes — user context attached per route, so public routes
	// registered elsewhere are never caught by it
	userCtx := middleware.UserContextMiddleware()

	app.Post("/events", userCtx, eventService.CreateEvent)
	app.Put("/events/:id", userCtx, eventService.UpdateEvent)
	app.Delete("/events/:id", userCtx, eventService.DeleteEvent)

	app.Post("/events/:event_id/tickets", userCtx, ticketService.BuyEventTicket)
	app.Get("/events/:event_id/tickets", userCtx, ticketService.GetActiveTickets)
	app.Post("/events/:event_id/finish", userCtx, ticketService.FinishEventRace)
}
