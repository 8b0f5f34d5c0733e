package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Runner is a job queue with workers
type Runner interface {
	Enqueuer
	Register(jobType JobType, fn ProcessorFunc)
	Start()
	Stop()
	Stats(ctx context.Context) (QueueStats, error)
	Requeue(ctx context.Context, id string) (*Job, error)
}

// ManagerOptions configures the periodic tasks of a Manager
type ManagerOptions struct {
	// BackfillInterval schedules a team backfill periodically; 0 disables it.
	BackfillInterval  time.Duration
	BackfillBatchSize int
}

// Manager runs the job queue and the periodic background tasks
type Manager struct {
	queue          Runner
	opts           ManagerOptions
	backfillTicker *time.Ticker
	stopCh         chan struct{}
	wg             sync.WaitGroup
	mu             sync.Mutex
	running        bool
}

func NewManager(queue Runner, opts ManagerOptions) *Manager {
	return &Manager{
		queue:  queue,
		opts:   opts,
		stopCh: make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() Runner {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	if m.opts.BackfillInterval > 0 {
		m.backfillTicker = time.NewTicker(m.opts.BackfillInterval)
		m.wg.Add(1)
		go m.backfillWorker(m.backfillTicker, m.stopCh)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.backfillTicker != nil {
		m.backfillTicker.Stop()
	}

	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// backfillWorker periodically schedules a team ledger reconciliation
func (m *Manager) backfillWorker(ticker *time.Ticker, stopCh chan struct{}) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started backfill scheduler (interval: %s)", m.opts.BackfillInterval)

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Backfill scheduler stopping")
			return
		case <-ticker.C:
			if _, err := m.RunTeamBackfill(context.Background()); err != nil {
				log.Errorf("[JobQueue Manager] Error scheduling team backfill: %v", err)
			}
		}
	}
}

// RunTeamBackfill enqueues a full team ledger backfill (admin use).
func (m *Manager) RunTeamBackfill(ctx context.Context) (*Job, error) {
	return EnqueueTeamBackfill(ctx, m.queue, m.opts.BackfillBatchSize)
}

// Stats reports the size of the managed queue
func (m *Manager) Stats(ctx context.Context) (QueueStats, error) {
	return m.queue.Stats(ctx)
}

// Requeue retries a dead job of the managed queue
func (m *Manager) Requeue(ctx context.Context, id string) (*Job, error) {
	return m.queue.Requeue(ctx, id)
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
