package pledges

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"

	"github.com/mayday-pac/pledgeservice/app/models"
	"github.com/mayday-pac/pledgeservice/app/repository"
	"github.com/mayday-pac/pledgeservice/internal/pkg/billing"
	"github.com/mayday-pac/pledgeservice/internal/pkg/cache"
	"github.com/mayday-pac/pledgeservice/internal/pkg/counter"
	"github.com/mayday-pac/pledgeservice/internal/pkg/jobqueue"
	"github.com/mayday-pac/pledgeservice/internal/pkg/teamledger"
)

// ErrInvalidRequest wraps validation failures of a pledge request
var ErrInvalidRequest = errors.New("invalid pledge request")

// CreateRequest is a pledge as submitted by the donation form
type CreateRequest struct {
	Email       string `json:"email" validate:"required,email,max=200"`
	AmountCents int64  `json:"amountCents" validate:"required,gt=0"`
	Token       string `json:"token" validate:"required"`
	Team        string `json:"team" validate:"max=100"`
	PledgeType  string `json:"pledgeType" validate:"omitempty,oneof=CONDITIONAL DONATION"`
	Anonymous   bool   `json:"anonymous"`
	Note        string `json:"note" validate:"max=2000"`
	Subscribe   bool   `json:"subscribe"`
}

// Service runs the pledge creation workflow and keeps the aggregates in step with it.
type Service struct {
	pledges     repository.PledgeRepository
	engine      *counter.Engine
	ledger      *teamledger.Ledger
	cache       cache.AggregateCache
	payments    billing.PaymentBackend
	mailing     billing.MailingListSubscriber
	jobs        jobqueue.Enqueuer
	counterName string
	publicURL   string
	validate    *validator.Validate
}

// Deps are the collaborators of a Service
type Deps struct {
	Pledges     repository.PledgeRepository
	Engine      *counter.Engine
	Ledger      *teamledger.Ledger
	Cache       cache.AggregateCache
	Payments    billing.PaymentBackend
	Mailing     billing.MailingListSubscriber
	Jobs        jobqueue.Enqueuer
	CounterName string
	PublicURL   string
}

func NewService(d Deps) *Service {
	if d.CounterName == "" {
		d.CounterName = "TOTAL"
	}
	return &Service{
		pledges:     d.Pledges,
		engine:      d.Engine,
		ledger:      d.Ledger,
		cache:       d.Cache,
		payments:    d.Payments,
		mailing:     d.Mailing,
		jobs:        d.Jobs,
		counterName: d.CounterName,
		publicURL:   strings.TrimRight(d.PublicURL, "/"),
		validate:    validator.New(),
	}
}

// Create charges or registers the donor, stores the pledge and updates the aggregates.
// Once the pledge is stored Create does not fail: aggregate updates that cannot be applied
// now are handed to the job queue.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Pledge, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.Team = strings.TrimSpace(req.Team)
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	pledge, err := models.NewPledge(req.Email, req.AmountCents, req.PledgeType, req.Team, req.Anonymous)
	if err != nil {
		return nil, err
	}
	pledge.Note = req.Note

	customerID, err := s.payments.CreateCustomer(ctx, req.Email, req.Token)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	pledge.StripeCustomerID = customerID

	// Conditional pledges are only charged if the campaign goal is met
	if pledge.PledgeType == models.PledgeTypeDonation {
		chargeID, err := s.payments.Charge(ctx, customerID, req.AmountCents)
		if err != nil {
			return nil, fmt.Errorf("charge: %w", err)
		}
		pledge.StripeChargeID = chargeID
	}

	if err := s.pledges.Create(ctx, pledge); err != nil {
		return nil, fmt.Errorf("store pledge: %w", err)
	}
	log.Infof("[Pledges] Pledge %d created (%d cents, team %q)", pledge.ID, pledge.AmountCents, pledge.Team)

	if err := s.OnPledgeCreated(ctx, pledge.ID, pledge.Team, pledge.AmountCents); err != nil {
		log.Errorf("[Pledges] Aggregates of pledge %d are missing %d cents: %v", pledge.ID, pledge.AmountCents, err)
	}

	if req.Subscribe && s.mailing != nil {
		if err := s.mailing.Subscribe(ctx, req.Email); err != nil {
			log.Warnf("[Pledges] Mailing list subscribe failed for pledge %d: %v", pledge.ID, err)
		}
	}
	return pledge, nil
}

// OnPledgeCreated adds the pledge to the grand total and to its team. Steps that fail are
// retried asynchronously; an error means they could not even be queued.
func (s *Service) OnPledgeCreated(ctx context.Context, pledgeID uint, team string, amountCents int64) error {
	payload := jobqueue.AggregateUpdateJobPayload{
		PledgeID:    pledgeID,
		Team:        team,
		AmountCents: amountCents,
	}
	err := s.ApplyAggregateUpdate(ctx, &payload)
	if err == nil {
		return nil
	}

	log.Warnf("[Pledges] Deferring aggregate update of pledge %d: %v", pledgeID, err)
	if s.jobs == nil {
		return err
	}
	if _, qerr := jobqueue.EnqueueAggregateUpdate(ctx, s.jobs, payload); qerr != nil {
		return errors.Join(err, qerr)
	}
	return nil
}

// ApplyAggregateUpdate applies the steps of p that are not flagged done and flags each
// step as soon as it committed.
func (s *Service) ApplyAggregateUpdate(ctx context.Context, p *jobqueue.AggregateUpdateJobPayload) error {
	if !p.CounterDone {
		if err := s.engine.Increment(ctx, s.counterName, p.AmountCents); err != nil {
			return err
		}
		p.CounterDone = true
	}

	if p.Team != "" && !p.LedgerDone {
		if err := s.ledger.Add(ctx, p.Team, p.AmountCents); err != nil {
			return err
		}
		p.LedgerDone = true
		s.cache.Increment(ctx, cache.TeamTotalKey(p.Team), p.AmountCents)
		s.cache.Increment(ctx, cache.TeamPledgesKey(p.Team), 1)
	}
	return nil
}

// MarkThankYouSent records the thank-you mail once; false means it was already recorded.
func (s *Service) MarkThankYouSent(ctx context.Context, pledgeID uint) (bool, error) {
	return s.pledges.MarkThankYouSent(ctx, pledgeID, time.Now())
}

// ReceiptURL is the public link to a pledge receipt
func (s *Service) ReceiptURL(p *models.Pledge) string {
	return fmt.Sprintf("%s/receipt/%s", s.publicURL, p.URLNonce)
}
