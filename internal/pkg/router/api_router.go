package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/mayday-pac/pledgeservice/app/controllers"
)

// PledgeRouter installs the public /r endpoints used by the campaign frontend
type PledgeRouter struct {
	deps Deps
}

func (h PledgeRouter) InstallRouter(app *fiber.App) {
	r := app.Group("/r", cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
	}))
	r.Get("/total", h.deps.Pledges.HandleGetTotal)

	create := []fiber.Handler{}
	if limit := h.deps.Config.RateLimitMax; limit > 0 {
		create = append(create, limiter.New(limiter.Config{
			Max:          limit,
			Expiration:   time.Minute,
			KeyGenerator: controllers.ClientIP,
			Storage:      h.deps.LimiterStorage,
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error":   "too_many_requests",
					"message": "too many pledges from this address, try again later",
				})
			},
		}))
	}
	create = append(create, h.deps.Pledges.HandleCreatePledge)
	r.Post("/pledge", create...)
}

func NewPledgeRouter(deps Deps) *PledgeRouter {
	return &PledgeRouter{deps: deps}
}
