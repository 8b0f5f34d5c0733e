package statistics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/mayday-pac/pledgeservice/app/models"
	"github.com/mayday-pac/pledgeservice/app/repository"
	"github.com/mayday-pac/pledgeservice/internal/pkg/cache"
	"github.com/mayday-pac/pledgeservice/internal/pkg/counter"
	"github.com/mayday-pac/pledgeservice/internal/pkg/teamledger"
)

// TeamStats is the public aggregate of one team
type TeamStats struct {
	Team           string `json:"team"`
	TeamPledges    int64  `json:"teamPledges"`
	TeamTotalCents int64  `json:"teamTotalCents"`
}

// Service answers the read side of the aggregates
type Service struct {
	engine      *counter.Engine
	ledger      *teamledger.Ledger
	pledges     repository.PledgeRepository
	settings    repository.SettingRepository
	cache       cache.AggregateCache
	counterName string
	addends     int64
	ttl         time.Duration
}

// Options configures the grand total composition
type Options struct {
	CounterName string
	// FixedAddends is added to every grand total, for amounts raised outside the counter.
	FixedAddends int64
	CacheTTL     time.Duration
}

func NewService(engine *counter.Engine, ledger *teamledger.Ledger, repos *repository.Repositories,
	c cache.AggregateCache, opts Options) *Service {
	if opts.CounterName == "" {
		opts.CounterName = "TOTAL"
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = counter.DefaultCacheTTL
	}
	return &Service{
		engine:      engine,
		ledger:      ledger,
		pledges:     repos.Pledge,
		settings:    repos.Setting,
		cache:       c,
		counterName: opts.CounterName,
		addends:     opts.FixedAddends,
		ttl:         opts.CacheTTL,
	}
}

// CounterName is the name of the grand total counter
func (s *Service) CounterName() string {
	return s.counterName
}

// GrandTotal returns the counter total plus the fixed addends and the stretch goal amount.
func (s *Service) GrandTotal(ctx context.Context) (int64, error) {
	total, err := s.engine.GetTotal(ctx, s.counterName)
	if err != nil {
		return 0, err
	}
	stretch, err := s.settings.GetInt64(ctx, models.SettingStretchCheckTotal)
	if err != nil {
		// A broken setting must not take the total offline
		log.Errorf("[Statistics] Ignoring stretch total: %v", err)
		stretch = 0
	}
	return total + s.addends + stretch, nil
}

// TeamStats prefers cached values, then sums the team's pledges, then falls back to the ledger row.
func (s *Service) TeamStats(ctx context.Context, team string) (TeamStats, error) {
	stats := TeamStats{Team: team}
	if team == "" {
		return stats, nil
	}

	totalKey, pledgesKey := cache.TeamTotalKey(team), cache.TeamPledgesKey(team)
	total, okTotal := s.cache.Get(ctx, totalKey)
	count, okCount := s.cache.Get(ctx, pledgesKey)
	if okTotal && okCount {
		stats.TeamTotalCents, stats.TeamPledges = total, count
		return stats, nil
	}

	sum, err := s.pledges.SumByTeam(ctx, team)
	if err == nil {
		s.cache.Add(ctx, totalKey, sum.TotalCents, s.ttl)
		s.cache.Add(ctx, pledgesKey, sum.PledgeCount, s.ttl)
		stats.TeamTotalCents, stats.TeamPledges = sum.TotalCents, sum.PledgeCount
		return stats, nil
	}
	log.Warnf("[Statistics] Pledge scan for team %s failed, using ledger: %v", team, err)

	tt, err := s.ledger.GetOrCreate(ctx, team)
	if err != nil {
		return stats, fmt.Errorf("team stats %s: %w", team, err)
	}
	stats.TeamTotalCents, stats.TeamPledges = tt.TotalCents, tt.PledgeCount
	return stats, nil
}

// SetStretchTotal stores the stretch goal amount and drops the cached grand total.
func (s *Service) SetStretchTotal(ctx context.Context, cents int64) error {
	if cents < 0 {
		return fmt.Errorf("stretch total must not be negative: %d", cents)
	}
	if err := s.settings.SetValue(ctx, models.SettingStretchCheckTotal, strconv.FormatInt(cents, 10)); err != nil {
		return err
	}
	s.engine.Reset(ctx, s.counterName)
	return nil
}

// ResetCounter clears the cached total of name
func (s *Service) ResetCounter(ctx context.Context, name string) {
	s.engine.Reset(ctx, name)
}
