package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mayday-pac/pledgeservice/app/controllers"
	"github.com/mayday-pac/pledgeservice/internal/pkg/config"
)

// Router registers one group of routes
type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps are the handlers and settings the routers need
type Deps struct {
	Config  *config.Config
	Pledges *controllers.PledgeController
	Admin   *controllers.AdminController
	// LimiterStorage backs the public rate limiter; nil keeps counters in process memory.
	LimiterStorage fiber.Storage
}

func InstallRouter(app *fiber.App, deps Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	setup(app, NewPledgeRouter(deps), NewAdminRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
