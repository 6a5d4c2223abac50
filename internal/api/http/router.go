package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/issue-service/internal/api/http/handlers"
	"github.com/spec-kit/issue-service/internal/auth"
	"github.com/spec-kit/issue-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Issues         *handlers.IssuesHandler
	Users          *handlers.UsersHandler
	Admin          *handlers.AdminHandler
	AuthMiddleware *auth.AuthMiddleware
	// Metrics serves the Prometheus scrape endpoint; nil leaves /metrics unregistered.
	Metrics http.Handler
}

// RegisterRoutes wires HTTP routes. Fixed paths are registered ahead of
// their :id siblings so they are not captured as identifiers.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	app.Post("/auth/login", cfg.Users.Login)

	authenticated := cfg.AuthMiddleware.Handle
	adminOnly := auth.RequireRole(domain.RoleAdmin)

	issues := app.Group("/issues", authenticated)
	issues.Post("/", cfg.Issues.Create)
	issues.Get("/filter", cfg.Issues.Filter)
	issues.Get("/overdue", cfg.Issues.Overdue)
	issues.Get("/stats", cfg.Issues.Stats)
	issues.Put("/:issueId/assign/:userId", adminOnly, cfg.Issues.Assign)
	issues.Get("/:id/history", cfg.Issues.History)
	issues.Get("/:id", cfg.Issues.Get)
	issues.Put("/:id", cfg.Issues.Update)
	issues.Delete("/:id", cfg.Issues.Delete)

	app.Get("/users/leaderboard", cfg.Users.Leaderboard)

	users := app.Group("/users", authenticated)
	users.Get("/me", cfg.Users.Me)
	users.Put("/me/password", cfg.Users.ChangePassword)
	users.Post("/", adminOnly, cfg.Users.Create)
	users.Get("/", adminOnly, cfg.Users.List)
	users.Get("/:id", adminOnly, cfg.Users.Get)
	users.Put("/:id", adminOnly, cfg.Users.Update)
	users.Delete("/:id", adminOnly, cfg.Users.Delete)

	admin := app.Group("/admin", authenticated, adminOnly)
	admin.Post("/reconcile", cfg.Admin.Reconcile)
	admin.Get("/pending-credits", cfg.Admin.PendingCredits)
}
