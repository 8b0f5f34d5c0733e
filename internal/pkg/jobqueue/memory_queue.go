package jobqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// ErrQueueFull is returned when the in-process queue cannot take more jobs
var ErrQueueFull = errors.New("jobqueue: queue full")

// MemoryQueue runs jobs on in-process workers. Pending jobs are lost on restart; it backs
// CACHE_DRIVER=memory setups and tests.
type MemoryQueue struct {
	registry
	workers    int
	pending    chan *Job
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	retryDelay time.Duration

	jobsMu     sync.Mutex
	jobs       map[string]*Job
	dead       []string
	processing int64
	completed  int64
	failed     int64
}

func NewMemoryQueue(workers, capacity int) *MemoryQueue {
	if workers <= 0 {
		workers = 3
	}
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{
		workers:    workers,
		pending:    make(chan *Job, capacity),
		stopCh:     make(chan struct{}),
		retryDelay: DefaultRetryDelay,
		jobs:       map[string]*Job{},
	}
}

func (q *MemoryQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})
	log.Infof("[JobQueue] Starting %d in-process workers", q.workers)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i, q.stopCh)
	}
}

func (q *MemoryQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return
	}
	close(q.stopCh)
	q.running = false
	q.wg.Wait()
	log.Info("[JobQueue] All in-process workers stopped")
}

func (q *MemoryQueue) worker(id int, stop <-chan struct{}) {
	defer q.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-stop:
			return
		case job := <-q.pending:
			log.Debugf("[JobQueue] Worker %d processing job %s (Type: %s)", id, job.ID, job.Type)
			q.processJob(ctx, job, stop)
		}
	}
}

func (q *MemoryQueue) EnqueueJob(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error) {
	job := newJob(uuid.New().String(), jobType, payload)
	q.jobsMu.Lock()
	q.jobs[job.ID] = job
	q.jobsMu.Unlock()

	select {
	case q.pending <- job:
	default:
		q.jobsMu.Lock()
		delete(q.jobs, job.ID)
		q.jobsMu.Unlock()
		return nil, ErrQueueFull
	}
	log.Infof("[JobQueue] Enqueued job %s (Type: %s)", job.ID, job.Type)
	return job, nil
}

func (q *MemoryQueue) processJob(ctx context.Context, job *Job, stop <-chan struct{}) {
	q.jobsMu.Lock()
	job.MarkAsProcessing()
	work := *job
	q.processing++
	q.jobsMu.Unlock()

	err := q.dispatch(ctx, q, &work)

	q.jobsMu.Lock()
	defer q.jobsMu.Unlock()
	q.processing--
	job.Payload = work.Payload
	if err == nil {
		q.completed++
		job.MarkAsCompleted()
		delete(q.jobs, job.ID)
		return
	}

	job.MarkAsFailed(err.Error())
	if !job.IsRetryable() {
		log.Errorf("[JobQueue] Job %s (Type: %s) is dead after %d attempts: %v", job.ID, job.Type, job.RetryCount, err)
		q.failed++
		q.dead = append(q.dead, job.ID)
		return
	}
	log.Warnf("[JobQueue] Job %s failed (attempt %d/%d): %v", job.ID, job.RetryCount, job.MaxRetries, err)
	job.MarkAsRetrying()
	time.AfterFunc(q.retryDelay*time.Duration(job.RetryCount), func() {
		select {
		case q.pending <- job:
		case <-stop:
		}
	})
}

// Requeue gives a dead job a fresh set of retries. Payload progress is kept.
func (q *MemoryQueue) Requeue(ctx context.Context, id string) (*Job, error) {
	q.jobsMu.Lock()
	defer q.jobsMu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	at := -1
	for i, deadID := range q.dead {
		if deadID == id {
			at = i
			break
		}
	}
	if at < 0 {
		return nil, ErrJobNotDead
	}

	select {
	case q.pending <- job:
	default:
		return nil, ErrQueueFull
	}
	q.dead = append(q.dead[:at], q.dead[at+1:]...)
	job.Revive()
	snapshot := *job
	log.Infof("[JobQueue] Dead job %s (Type: %s) requeued", id, job.Type)
	return &snapshot, nil
}

// GetJob returns a snapshot of a pending, retrying or dead job
func (q *MemoryQueue) GetJob(ctx context.Context, jobID string) (*Job, bool) {
	q.jobsMu.Lock()
	defer q.jobsMu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// GetQueueSize returns the number of jobs waiting for a worker
func (q *MemoryQueue) GetQueueSize() int {
	return len(q.pending)
}

func (q *MemoryQueue) Stats(ctx context.Context) (QueueStats, error) {
	q.jobsMu.Lock()
	defer q.jobsMu.Unlock()
	stats := QueueStats{
		Backend:    "memory",
		Pending:    int64(len(q.pending)),
		Processing: q.processing,
		Completed:  q.completed,
		Failed:     q.failed,
		Dead:       []DeadJob{},
	}
	for _, job := range q.jobs {
		if job.Status == JobStatusRetrying {
			stats.Delayed++
		}
	}
	// newest first, like the Redis dead list
	for i := len(q.dead) - 1; i >= 0 && len(stats.Dead) < maxListedDeadJobs; i-- {
		stats.Dead = append(stats.Dead, deadJobOf(q.jobs[q.dead[i]]))
	}
	return stats, nil
}
