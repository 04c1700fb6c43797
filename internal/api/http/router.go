package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-triage/internal/api/http/handlers"
	"github.com/spec-kit/ticket-triage/internal/auth"
	"github.com/spec-kit/ticket-triage/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Tickets        *handlers.TicketsHandler
	Triage         *handlers.TriageHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Users.Register)
	authGroup.Post("/login", cfg.Users.Login)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle, auth.RequireRole())
	tickets.Post("", cfg.Tickets.CreateTicket)
	tickets.Get("", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)

	// Event intake and run inspection are operator surfaces.
	triage := app.Group("/triage", cfg.AuthMiddleware.Handle,
		auth.RequireRole(domain.UserRoleModerator, domain.UserRoleAdmin))
	triage.Post("/events", cfg.Triage.PostEvent)
	triage.Get("/runs/:id", cfg.Triage.GetRun)
}
