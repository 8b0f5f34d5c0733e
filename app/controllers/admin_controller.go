package controllers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/mayday-pac/pledgeservice/app/repository"
	"github.com/mayday-pac/pledgeservice/internal/pkg/jobqueue"
	"github.com/mayday-pac/pledgeservice/internal/pkg/middleware"
	"github.com/mayday-pac/pledgeservice/internal/pkg/pledges"
	"github.com/mayday-pac/pledgeservice/internal/pkg/statistics"
	"github.com/mayday-pac/pledgeservice/internal/pkg/teamledger"
)

// JobScheduler enqueues maintenance jobs and reports on the queue
type JobScheduler interface {
	RunTeamBackfill(ctx context.Context) (*jobqueue.Job, error)
	Stats(ctx context.Context) (jobqueue.QueueStats, error)
	Requeue(ctx context.Context, id string) (*jobqueue.Job, error)
}

// AdminController handles the maintenance endpoints
type AdminController struct {
	stats   *statistics.Service
	ledger  *teamledger.Ledger
	pledges *pledges.Service
	jobs    JobScheduler
}

func NewAdminController(stats *statistics.Service, ledger *teamledger.Ledger, p *pledges.Service, jobs JobScheduler) *AdminController {
	return &AdminController{stats: stats, ledger: ledger, pledges: p, jobs: jobs}
}

// StretchRequest is the body of PUT /admin/stretch
type StretchRequest struct {
	Cents *int64 `json:"cents"`
}

func adminName(c *fiber.Ctx) string {
	if name, ok := c.Locals(middleware.KeyAdminUser).(string); ok {
		return name
	}
	return "unknown"
}

// HandleResetCounter drops the cached total of a counter. Shard rows are untouched.
func (ac *AdminController) HandleResetCounter(c *fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "counter name is required")
	}
	ac.stats.ResetCounter(c.UserContext(), name)
	log.Infof("[Admin] %s reset cached counter %s", adminName(c), name)
	return c.JSON(fiber.Map{"counter": name, "reset": true})
}

// HandleTeamBackfill schedules a reconciliation of all team ledger rows.
func (ac *AdminController) HandleTeamBackfill(c *fiber.Ctx) error {
	job, err := ac.jobs.RunTeamBackfill(c.UserContext())
	if err != nil {
		log.Errorf("[Admin] Scheduling team backfill failed: %v", err)
		return jsonError(c, fiber.StatusServiceUnavailable, "unavailable", "backfill could not be scheduled")
	}
	log.Infof("[Admin] %s scheduled team backfill job %s", adminName(c), job.ID)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"jobId": job.ID})
}

// HandleJobStats reports the deferred work waiting in the job queue
func (ac *AdminController) HandleJobStats(c *fiber.Ctx) error {
	stats, err := ac.jobs.Stats(c.UserContext())
	if err != nil {
		log.Errorf("[Admin] Reading job queue stats failed: %v", err)
		return jsonError(c, fiber.StatusServiceUnavailable, "unavailable", "job queue unavailable")
	}
	return c.JSON(stats)
}

// HandleRequeueJob gives a dead job another round of retries.
func (ac *AdminController) HandleRequeueJob(c *fiber.Ctx) error {
	id := c.Params("id")
	job, err := ac.jobs.Requeue(c.UserContext(), id)
	switch {
	case errors.Is(err, jobqueue.ErrJobNotFound):
		return jsonError(c, fiber.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, jobqueue.ErrJobNotDead):
		return jsonError(c, fiber.StatusConflict, "conflict", "job still has retries left")
	case err != nil:
		log.Errorf("[Admin] Requeueing job %s failed: %v", id, err)
		return jsonError(c, fiber.StatusServiceUnavailable, "unavailable", "job could not be requeued")
	}
	log.Infof("[Admin] %s requeued dead job %s", adminName(c), id)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"jobId": job.ID})
}

// HandleSetStretch stores the stretch goal check total.
func (ac *AdminController) HandleSetStretch(c *fiber.Ctx) error {
	var req StretchRequest
	if err := c.BodyParser(&req); err != nil || req.Cents == nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "body must be {\"cents\": <int>}")
	}
	if *req.Cents < 0 {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "cents must not be negative")
	}
	if err := ac.stats.SetStretchTotal(c.UserContext(), *req.Cents); err != nil {
		log.Errorf("[Admin] Storing stretch total failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "stretch total could not be stored")
	}
	log.Infof("[Admin] %s set stretch total to %d cents", adminName(c), *req.Cents)
	return c.JSON(fiber.Map{"stretchCents": *req.Cents})
}

// HandleGetTeam shows the durable ledger row of a team next to its live statistics.
func (ac *AdminController) HandleGetTeam(c *fiber.Ctx) error {
	team := c.Params("team")
	ctx := c.UserContext()

	row, err := ac.ledger.Get(ctx, team)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		log.Errorf("[Admin] Reading ledger row of %s failed: %v", team, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "ledger unavailable")
	}
	stats, serr := ac.stats.TeamStats(ctx, team)
	if serr != nil {
		log.Warnf("[Admin] Team stats of %s failed: %v", team, serr)
	}

	resp := fiber.Map{"team": team, "stats": stats, "ledger": nil}
	if row != nil {
		resp["ledger"] = fiber.Map{
			"totalCents":  row.TotalCents,
			"pledgeCount": row.PledgeCount,
			"updatedAt":   row.UpdatedAt,
		}
	} else if errors.Is(err, repository.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(resp)
	}
	return c.JSON(resp)
}

// HandleMarkThankYou records that the thank-you mail of a pledge went out.
func (ac *AdminController) HandleMarkThankYou(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "invalid pledge id")
	}
	marked, err := ac.pledges.MarkThankYouSent(c.UserContext(), uint(id))
	if errors.Is(err, repository.ErrNotFound) {
		return jsonError(c, fiber.StatusNotFound, "not_found", "pledge not found")
	}
	if err != nil {
		log.Errorf("[Admin] Marking thank-you of pledge %d failed: %v", id, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "pledge could not be updated")
	}
	return c.JSON(fiber.Map{"id": id, "marked": marked})
}
