package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/mayday-pac/pledgeservice/internal/pkg/billing"
	"github.com/mayday-pac/pledgeservice/internal/pkg/pledges"
	"github.com/mayday-pac/pledgeservice/internal/pkg/statistics"
)

// PledgeController serves the public pledge endpoints
type PledgeController struct {
	pledges *pledges.Service
	stats   *statistics.Service
}

func NewPledgeController(p *pledges.Service, stats *statistics.Service) *PledgeController {
	return &PledgeController{pledges: p, stats: stats}
}

// TotalResponse is the body of GET /r/total
type TotalResponse struct {
	TotalCents     int64  `json:"totalCents"`
	Team           string `json:"team"`
	TeamPledges    int64  `json:"teamPledges"`
	TeamTotalCents int64  `json:"teamTotalCents"`
}

// CreatePledgeResponse is the body of a successful POST /r/pledge
type CreatePledgeResponse struct {
	ID         uint   `json:"id"`
	ReceiptURL string `json:"receiptUrl"`
}

// HandleGetTotal returns the grand total and, with ?team=, the team's aggregates.
func (pc *PledgeController) HandleGetTotal(c *fiber.Ctx) error {
	ctx := c.UserContext()
	total, err := pc.stats.GrandTotal(ctx)
	if err != nil {
		log.Errorf("[PledgeController] Grand total failed: %v", err)
		return jsonError(c, fiber.StatusServiceUnavailable, "unavailable", "total is temporarily unavailable")
	}

	resp := TotalResponse{TotalCents: total}
	if team := c.Query("team"); team != "" {
		ts, err := pc.stats.TeamStats(ctx, team)
		if err != nil {
			log.Errorf("[PledgeController] Team stats for %s failed: %v", team, err)
			return jsonError(c, fiber.StatusServiceUnavailable, "unavailable", "team total is temporarily unavailable")
		}
		resp.Team = ts.Team
		resp.TeamPledges = ts.TeamPledges
		resp.TeamTotalCents = ts.TeamTotalCents
	}

	c.Set(fiber.HeaderCacheControl, "no-cache")
	return c.JSON(resp)
}

// HandleCreatePledge charges or registers the donor and stores the pledge.
func (pc *PledgeController) HandleCreatePledge(c *fiber.Ctx) error {
	var req pledges.CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "malformed pledge body")
	}

	p, err := pc.pledges.Create(c.UserContext(), req)
	switch {
	case err == nil:
	case errors.Is(err, pledges.ErrInvalidRequest):
		return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, billing.ErrPaymentDeclined):
		return jsonError(c, fiber.StatusPaymentRequired, "payment_declined", "the card was declined")
	default:
		log.Errorf("[PledgeController] Create pledge from %s failed: %v", ClientIP(c), err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "pledge could not be processed")
	}

	return c.Status(fiber.StatusCreated).JSON(CreatePledgeResponse{
		ID:         p.ID,
		ReceiptURL: pc.pledges.ReceiptURL(p),
	})
}
