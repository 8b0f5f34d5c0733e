package pledges

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayday-pac/pledgeservice/app/models"
	"github.com/mayday-pac/pledgeservice/app/repository"
	"github.com/mayday-pac/pledgeservice/internal/pkg/billing"
	"github.com/mayday-pac/pledgeservice/internal/pkg/cache"
	"github.com/mayday-pac/pledgeservice/internal/pkg/counter"
	"github.com/mayday-pac/pledgeservice/internal/pkg/database"
	"github.com/mayday-pac/pledgeservice/internal/pkg/jobqueue"
	"github.com/mayday-pac/pledgeservice/internal/pkg/teamledger"
)

type recordingEnqueuer struct {
	payloads []jobqueue.AggregateUpdateJobPayload
	err      error
}

func (r *recordingEnqueuer) EnqueueJob(ctx context.Context, jobType jobqueue.JobType, payload map[string]interface{}) (*jobqueue.Job, error) {
	if r.err != nil {
		return nil, r.err
	}
	p, err := jobqueue.AggregateUpdateJobPayloadFromMap(payload)
	if err != nil {
		return nil, err
	}
	r.payloads = append(r.payloads, *p)
	return &jobqueue.Job{ID: "job", Type: jobType, Payload: payload}, nil
}

type fixture struct {
	pledges  *repository.MemoryPledgeRepository
	shards   *repository.MemoryShardRepository
	totals   *repository.MemoryTeamTotalRepository
	cache    *cache.MemoryCache
	engine   *counter.Engine
	ledger   *teamledger.Ledger
	payments *billing.FakePaymentBackend
	mailing  *billing.FakeMailingList
	jobs     *recordingEnqueuer
	service  *Service
}

func newFixture() *fixture {
	f := &fixture{
		pledges:  repository.NewMemoryPledgeRepository(),
		shards:   repository.NewMemoryShardRepository(1),
		totals:   repository.NewMemoryTeamTotalRepository(1),
		cache:    cache.NewMemoryCache(),
		payments: billing.NewFakePaymentBackend(),
		mailing:  billing.NewFakeMailingList(),
		jobs:     &recordingEnqueuer{},
	}
	f.engine = counter.NewEngine(f.shards, f.cache, 10, time.Minute)
	f.ledger = teamledger.New(f.pledges, f.totals)
	f.service = NewService(Deps{
		Pledges:     f.pledges,
		Engine:      f.engine,
		Ledger:      f.ledger,
		Cache:       f.cache,
		Payments:    f.payments,
		Mailing:     f.mailing,
		Jobs:        f.jobs,
		CounterName: "TOTAL",
		PublicURL:   "https://pledge.example.org/",
	})
	return f
}

func validRequest() CreateRequest {
	return CreateRequest{
		Email:       "donor@example.com",
		AmountCents: 4200,
		Token:       "tok_visa",
		Team:        "rocket",
		PledgeType:  models.PledgeTypeDonation,
		Subscribe:   true,
	}
}

func TestCreateUpdatesAggregates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	p, err := f.service.Create(ctx, validRequest())
	require.NoError(t, err)
	assert.NotZero(t, p.ID)
	assert.NotEmpty(t, p.StripeCustomerID)
	assert.NotEmpty(t, p.StripeChargeID)
	assert.Equal(t, int64(4200), f.payments.Charged())
	assert.Equal(t, []string{"donor@example.com"}, f.mailing.Subscribed())

	total, err := f.engine.GetTotal(ctx, "TOTAL")
	require.NoError(t, err)
	assert.Equal(t, int64(4200), total)

	tt, err := f.ledger.Get(ctx, "rocket")
	require.NoError(t, err)
	assert.Equal(t, int64(4200), tt.TotalCents)
	assert.Equal(t, int64(1), tt.PledgeCount)
	assert.Empty(t, f.jobs.payloads)

	assert.True(t, strings.HasPrefix(f.service.ReceiptURL(p), "https://pledge.example.org/receipt/"))
}

func TestConditionalPledgeIsNotCharged(t *testing.T) {
	f := newFixture()
	req := validRequest()
	req.PledgeType = ""

	p, err := f.service.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.PledgeTypeConditional, p.PledgeType)
	assert.Empty(t, p.StripeChargeID)
	assert.Equal(t, int64(0), f.payments.Charged())
}

func TestCreateRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *CreateRequest)
	}{
		{"missing email", func(r *CreateRequest) { r.Email = "" }},
		{"bad email", func(r *CreateRequest) { r.Email = "not-an-email" }},
		{"zero amount", func(r *CreateRequest) { r.AmountCents = 0 }},
		{"negative amount", func(r *CreateRequest) { r.AmountCents = -5 }},
		{"missing token", func(r *CreateRequest) { r.Token = "" }},
		{"unknown type", func(r *CreateRequest) { r.PledgeType = "LOAN" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			req := validRequest()
			tt.mutate(&req)
			_, err := f.service.Create(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestDeclinedCardStoresNothing(t *testing.T) {
	f := newFixture()
	req := validRequest()
	req.Token = billing.DeclineToken

	_, err := f.service.Create(context.Background(), req)
	assert.ErrorIs(t, err, billing.ErrPaymentDeclined)
	all, _ := f.pledges.ListByTeam(context.Background(), "rocket")
	assert.Empty(t, all)
}

func TestFailedLedgerUpdateIsDeferred(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.totals.BeforeAdd = func(string) error { return database.ErrConflict }

	p, err := f.service.Create(ctx, validRequest())
	require.NoError(t, err, "the pledge is kept when aggregates fail")

	require.Len(t, f.jobs.payloads, 1)
	deferred := f.jobs.payloads[0]
	assert.Equal(t, p.ID, deferred.PledgeID)
	assert.True(t, deferred.CounterDone, "the counter step already committed")
	assert.False(t, deferred.LedgerDone)

	// The job retries only the ledger step
	f.totals.BeforeAdd = nil
	require.NoError(t, f.service.ApplyAggregateUpdate(ctx, &deferred))
	assert.True(t, deferred.Done())

	total, err := f.engine.GetTotal(ctx, "TOTAL")
	require.NoError(t, err)
	assert.Equal(t, int64(4200), total, "no double counting on retry")
	tt, err := f.ledger.Get(ctx, "rocket")
	require.NoError(t, err)
	assert.Equal(t, int64(4200), tt.TotalCents)
}

func TestOnPledgeCreatedReportsUnqueueableFailure(t *testing.T) {
	f := newFixture()
	f.shards.BeforeIncrement = func(string) error { return database.ErrConflict }
	f.jobs.err = errors.New("redis down")

	err := f.service.OnPledgeCreated(context.Background(), 1, "", 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, database.ErrContention)
	assert.Contains(t, err.Error(), "redis down")
}

func TestApplyUpdatesWarmTeamCache(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.cache.Add(ctx, cache.TeamTotalKey("rocket"), 1000, time.Minute)
	f.cache.Add(ctx, cache.TeamPledgesKey("rocket"), 1, time.Minute)

	require.NoError(t, f.service.OnPledgeCreated(ctx, 2, "rocket", 500))

	v, _ := f.cache.Get(ctx, cache.TeamTotalKey("rocket"))
	assert.Equal(t, int64(1500), v)
	v, _ = f.cache.Get(ctx, cache.TeamPledgesKey("rocket"))
	assert.Equal(t, int64(2), v)
}

func TestMailingListFailureDoesNotFailPledge(t *testing.T) {
	f := newFixture()
	f.mailing.Err = errors.New("mailchimp down")

	_, err := f.service.Create(context.Background(), validRequest())
	assert.NoError(t, err)
}

func TestMarkThankYouSent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, err := f.service.Create(ctx, validRequest())
	require.NoError(t, err)

	first, err := f.service.MarkThankYouSent(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, first)
	again, err := f.service.MarkThankYouSent(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestServiceIsAggregateApplier(t *testing.T) {
	var _ jobqueue.AggregateApplier = (*Service)(nil)
}
