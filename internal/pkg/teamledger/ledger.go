package teamledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/mayday-pac/pledgeservice/app/models"
	"github.com/mayday-pac/pledgeservice/app/repository"
)

// ErrTeamTotalMissing means the team row vanished between seeding and adding.
var ErrTeamTotalMissing = errors.New("teamledger: team total missing")

// DefaultBatchSize is the number of teams handled per backfill batch
const DefaultBatchSize = 100

// Ledger keeps a durable running total and pledge count per team.
type Ledger struct {
	pledges repository.PledgeRepository
	totals  repository.TeamTotalRepository
}

func New(pledges repository.PledgeRepository, totals repository.TeamTotalRepository) *Ledger {
	return &Ledger{pledges: pledges, totals: totals}
}

// GetOrCreate returns the team row, seeding it once from legacy pledges that predate the ledger.
// Concurrent callers agree on a single seed.
func (l *Ledger) GetOrCreate(ctx context.Context, team string) (*models.TeamTotal, error) {
	tt, err := l.totals.Get(ctx, team)
	if err == nil {
		return tt, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	legacy, err := l.pledges.ListLegacyByTeam(ctx, team, models.TeamLedgerModelVersion)
	if err != nil {
		return nil, fmt.Errorf("scan legacy pledges of %s: %w", team, err)
	}
	seed := &models.TeamTotal{Team: team}
	for _, p := range legacy {
		seed.TotalCents += p.AmountCents
		seed.PledgeCount++
	}

	created, stored, err := l.totals.CreateIfAbsent(ctx, seed)
	if err != nil {
		return nil, fmt.Errorf("seed team total %s: %w", team, err)
	}
	if created {
		log.Infof("[TeamLedger] Seeded team %s with %d cents from %d legacy pledges", team, seed.TotalCents, seed.PledgeCount)
	}
	return stored, nil
}

// Add records one pledge of amountCents for team. Pledges without a team are ignored.
func (l *Ledger) Add(ctx context.Context, team string, amountCents int64) error {
	if team == "" {
		return nil
	}
	if _, err := l.GetOrCreate(ctx, team); err != nil {
		return err
	}
	if err := l.totals.Add(ctx, team, amountCents); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTeamTotalMissing, team)
		}
		return fmt.Errorf("add to team %s: %w", team, err)
	}
	return nil
}

// Get reads the team row without seeding it
func (l *Ledger) Get(ctx context.Context, team string) (*models.TeamTotal, error) {
	return l.totals.Get(ctx, team)
}

// BatchResult describes one backfill batch
type BatchResult struct {
	Processed   int
	Overwritten int
	// NextCursor is the last team handled; empty when Done.
	NextCursor string
	Done       bool
}

// BackfillBatch reconciles up to limit teams ordered after cursor. Rows with a zero or
// missing count are overwritten with the sum over all pledges of the team. Rows that
// already count pledges are left alone, which makes re-running a batch safe.
func (l *Ledger) BackfillBatch(ctx context.Context, cursor string, limit int) (BatchResult, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	teams, err := l.pledges.ListTeamsAfter(ctx, cursor, limit)
	if err != nil {
		return BatchResult{}, fmt.Errorf("list teams after %q: %w", cursor, err)
	}

	var res BatchResult
	for _, team := range teams {
		overwritten, err := l.reconcile(ctx, team)
		if err != nil {
			return res, err
		}
		res.Processed++
		res.NextCursor = team
		if overwritten {
			res.Overwritten++
		}
	}
	if len(teams) < limit {
		res.Done = true
		res.NextCursor = ""
	}
	return res, nil
}

func (l *Ledger) reconcile(ctx context.Context, team string) (bool, error) {
	current, err := l.totals.Get(ctx, team)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return false, err
	}
	if current != nil && current.PledgeCount > 0 {
		return false, nil
	}

	sum, err := l.pledges.SumByTeam(ctx, team)
	if err != nil {
		return false, fmt.Errorf("sum pledges of %s: %w", team, err)
	}
	if current != nil {
		log.Warnf("[TeamLedger] Team %s ledger had count 0, pledges sum to %d cents over %d pledges",
			team, sum.TotalCents, sum.PledgeCount)
	}
	tt := &models.TeamTotal{
		Team:        team,
		TotalCents:  sum.TotalCents,
		PledgeCount: sum.PledgeCount,
		UpdatedAt:   time.Now(),
	}
	if err := l.totals.Overwrite(ctx, tt); err != nil {
		return false, fmt.Errorf("overwrite team total %s: %w", team, err)
	}
	return true, nil
}

// Backfill runs batches until every team has been visited
func (l *Ledger) Backfill(ctx context.Context, batchSize int) (int, error) {
	var (
		cursor      string
		overwritten int
	)
	for {
		if err := ctx.Err(); err != nil {
			return overwritten, err
		}
		res, err := l.BackfillBatch(ctx, cursor, batchSize)
		if err != nil {
			return overwritten, err
		}
		overwritten += res.Overwritten
		if res.Done {
			log.Infof("[TeamLedger] Backfill finished, %d teams overwritten", overwritten)
			return overwritten, nil
		}
		cursor = res.NextCursor
	}
}
