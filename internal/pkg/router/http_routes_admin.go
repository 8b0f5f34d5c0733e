package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mayday-pac/pledgeservice/internal/pkg/middleware"
)

// AdminRouter installs the basic-auth protected maintenance API
type AdminRouter struct {
	deps Deps
}

func (h AdminRouter) InstallRouter(app *fiber.App) {
	cfg := h.deps.Config
	admin := h.deps.Admin

	adminGroup := app.Group("/admin", middleware.RequireAdmin(cfg.AdminUser, cfg.AdminPasswordHash))
	adminGroup.Post("/counters/:name/reset", admin.HandleResetCounter)
	adminGroup.Post("/teams/backfill", admin.HandleTeamBackfill)
	adminGroup.Get("/jobs", admin.HandleJobStats)
	adminGroup.Post("/jobs/:id/requeue", admin.HandleRequeueJob)
	adminGroup.Get("/teams/:team", admin.HandleGetTeam)
	adminGroup.Put("/stretch", admin.HandleSetStretch)
	adminGroup.Post("/pledges/:id/thank-you", admin.HandleMarkThankYou)
}

func NewAdminRouter(deps Deps) *AdminRouter {
	return &AdminRouter{deps: deps}
}
