package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mayday-pac/pledgeservice/app/models"
	"github.com/mayday-pac/pledgeservice/internal/pkg/database"
)

// NewMemoryRepositories creates process-local repositories for DB_DRIVER=memory and tests.
// Data is lost on restart.
func NewMemoryRepositories(txMaxRetries int) *Repositories {
	pledges := NewMemoryPledgeRepository()
	return &Repositories{
		Pledge:    pledges,
		Shard:     NewMemoryShardRepository(txMaxRetries),
		TeamTotal: NewMemoryTeamTotalRepository(txMaxRetries),
		Setting:   NewMemorySettingRepository(),
	}
}

// MemoryPledgeRepository keeps pledges in insertion order
type MemoryPledgeRepository struct {
	mu      sync.RWMutex
	pledges []models.Pledge
	nextID  uint
}

func NewMemoryPledgeRepository() *MemoryPledgeRepository {
	return &MemoryPledgeRepository{nextID: 1}
}

func (r *MemoryPledgeRepository) Create(ctx context.Context, pledge *models.Pledge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pledge.ID = r.nextID
	r.nextID++
	if pledge.CreatedAt.IsZero() {
		pledge.CreatedAt = time.Now()
	}
	r.pledges = append(r.pledges, *pledge)
	return nil
}

func (r *MemoryPledgeRepository) GetByID(ctx context.Context, id uint) (*models.Pledge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.pledges {
		if r.pledges[i].ID == id {
			p := r.pledges[i]
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryPledgeRepository) ListByTeam(ctx context.Context, team string) ([]models.Pledge, error) {
	return r.filter(func(p *models.Pledge) bool { return p.Team == team }), nil
}

func (r *MemoryPledgeRepository) ListLegacyByTeam(ctx context.Context, team string, beforeVersion int) ([]models.Pledge, error) {
	return r.filter(func(p *models.Pledge) bool {
		return p.Team == team && p.ModelVersion < beforeVersion
	}), nil
}

func (r *MemoryPledgeRepository) SumByTeam(ctx context.Context, team string) (TeamSum, error) {
	var sum TeamSum
	for _, p := range r.filter(func(p *models.Pledge) bool { return p.Team == team }) {
		sum.TotalCents += p.AmountCents
		sum.PledgeCount++
	}
	return sum, nil
}

func (r *MemoryPledgeRepository) ListTeamsAfter(ctx context.Context, cursor string, limit int) ([]string, error) {
	r.mu.RLock()
	seen := map[string]struct{}{}
	for i := range r.pledges {
		if team := r.pledges[i].Team; team != "" && team > cursor {
			seen[team] = struct{}{}
		}
	}
	r.mu.RUnlock()

	teams := make([]string, 0, len(seen))
	for team := range seen {
		teams = append(teams, team)
	}
	sort.Strings(teams)
	if limit > 0 && len(teams) > limit {
		teams = teams[:limit]
	}
	return teams, nil
}

func (r *MemoryPledgeRepository) MarkThankYouSent(ctx context.Context, id uint, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.pledges {
		if r.pledges[i].ID != id {
			continue
		}
		if r.pledges[i].ThankYouSentAt != nil {
			return false, nil
		}
		r.pledges[i].ThankYouSentAt = &at
		return true, nil
	}
	return false, ErrNotFound
}

func (r *MemoryPledgeRepository) filter(keep func(p *models.Pledge) bool) []models.Pledge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Pledge
	for i := range r.pledges {
		if keep(&r.pledges[i]) {
			out = append(out, r.pledges[i])
		}
	}
	return out
}

// MemoryShardRepository keeps counter shards in a map guarded by one mutex.
type MemoryShardRepository struct {
	mu         sync.Mutex
	shards     map[string]models.CounterShard
	maxRetries int

	// BeforeIncrement, when set, runs before each attempt; an error aborts that attempt.
	// Tests use it to simulate write conflicts.
	BeforeIncrement func(key string) error
}

func NewMemoryShardRepository(maxRetries int) *MemoryShardRepository {
	return &MemoryShardRepository{shards: map[string]models.CounterShard{}, maxRetries: maxRetries}
}

func (r *MemoryShardRepository) Increment(ctx context.Context, name string, index int, delta int64) error {
	key := models.ShardKey(name, index)
	return database.Retry(ctx, r.maxRetries, func() error {
		if r.BeforeIncrement != nil {
			if err := r.BeforeIncrement(key); err != nil {
				return err
			}
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		shard, ok := r.shards[key]
		if !ok {
			shard = models.CounterShard{ShardKey: key, Name: name, ShardIndex: index}
		}
		shard.RunningTotal += delta
		shard.UpdatedAt = time.Now()
		r.shards[key] = shard
		return nil
	})
}

func (r *MemoryShardRepository) GetMany(ctx context.Context, keys []string) ([]models.CounterShard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.CounterShard, 0, len(keys))
	for _, key := range keys {
		if shard, ok := r.shards[key]; ok {
			out = append(out, shard)
		}
	}
	return out, nil
}

func (r *MemoryShardRepository) SumByName(ctx context.Context, name string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, shard := range r.shards {
		if shard.Name == name {
			total += shard.RunningTotal
		}
	}
	return total, nil
}

// MemoryTeamTotalRepository keeps team aggregate rows in a map
type MemoryTeamTotalRepository struct {
	mu         sync.Mutex
	totals     map[string]models.TeamTotal
	maxRetries int

	// BeforeAdd, when set, runs before each Add attempt. Tests use it to inject failures.
	BeforeAdd func(team string) error
}

func NewMemoryTeamTotalRepository(maxRetries int) *MemoryTeamTotalRepository {
	return &MemoryTeamTotalRepository{totals: map[string]models.TeamTotal{}, maxRetries: maxRetries}
}

func (r *MemoryTeamTotalRepository) Get(ctx context.Context, team string) (*models.TeamTotal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tt, ok := r.totals[team]
	if !ok {
		return nil, ErrNotFound
	}
	return &tt, nil
}

func (r *MemoryTeamTotalRepository) CreateIfAbsent(ctx context.Context, tt *models.TeamTotal) (bool, *models.TeamTotal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.totals[tt.Team]; ok {
		return false, &existing, nil
	}
	now := time.Now()
	tt.CreatedAt, tt.UpdatedAt = now, now
	r.totals[tt.Team] = *tt
	stored := *tt
	return true, &stored, nil
}

func (r *MemoryTeamTotalRepository) Add(ctx context.Context, team string, amountCents int64) error {
	return database.Retry(ctx, r.maxRetries, func() error {
		if r.BeforeAdd != nil {
			if err := r.BeforeAdd(team); err != nil {
				return err
			}
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		tt, ok := r.totals[team]
		if !ok {
			return ErrNotFound
		}
		tt.TotalCents += amountCents
		tt.PledgeCount++
		tt.UpdatedAt = time.Now()
		r.totals[team] = tt
		return nil
	})
}

func (r *MemoryTeamTotalRepository) Overwrite(ctx context.Context, tt *models.TeamTotal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.totals[tt.Team]
	if ok {
		tt.CreatedAt = existing.CreatedAt
	} else {
		tt.CreatedAt = time.Now()
	}
	tt.UpdatedAt = time.Now()
	r.totals[tt.Team] = *tt
	return nil
}

// MemorySettingRepository keeps settings in a map
type MemorySettingRepository struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemorySettingRepository() *MemorySettingRepository {
	return &MemorySettingRepository{values: map[string]string{}}
}

func (r *MemorySettingRepository) GetValue(ctx context.Context, key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.values[key], nil
}

func (r *MemorySettingRepository) SetValue(ctx context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
	return nil
}

func (r *MemorySettingRepository) GetInt64(ctx context.Context, key string) (int64, error) {
	raw, _ := r.GetValue(ctx, key)
	return ParseInt64Setting(key, raw)
}
