package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis layout. Job bodies live under JobKeyPrefix+id. Ids move from the pending list to
// the processing list while a worker holds them, wait in the delayed set between retries
// and end up in the dead list once their retries are spent.
const (
	JobKeyPrefix     = "job:"
	JobQueueKey      = "job_queue"
	JobProcessingKey = "job_processing"
	JobDelayedKey    = "job_delayed"
	JobDeadKey       = "job_dead"
	JobStatsKey      = "job_stats"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Minute
	// JobTTL bounds live job bodies. Dead jobs are kept until requeued.
	JobTTL = 24 * time.Hour

	defaultSweepInterval = time.Minute
	defaultStuckAfter    = 10 * time.Minute
	dequeueWait          = time.Second
	maxListedDeadJobs    = 100
)

// Queue runs jobs stored in Redis, so pending work survives a restart and is shared
// between instances.
type Queue struct {
	registry
	client  redis.UniversalClient
	workers int

	retryDelay time.Duration
	sweepEvery time.Duration
	stuckAfter time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewQueue(client redis.UniversalClient, workers int) *Queue {
	if workers <= 0 {
		workers = 3
	}
	return &Queue{
		client:     client,
		workers:    workers,
		retryDelay: DefaultRetryDelay,
		sweepEvery: defaultSweepInterval,
		stuckAfter: defaultStuckAfter,
		stopCh:     make(chan struct{}),
	}
}

func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})

	log.Infof("[JobQueue] Starting %d workers", q.workers)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i, q.stopCh)
	}
	q.wg.Add(1)
	go q.maintain(q.stopCh)
}

func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return
	}
	close(q.stopCh)
	q.running = false
	q.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

func (q *Queue) worker(id int, stop <-chan struct{}) {
	defer q.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-stop:
			return
		default:
		}

		job, err := q.claim(ctx)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			log.Errorf("[JobQueue] Worker %d: %v", id, err)
			select {
			case <-stop:
				return
			case <-time.After(time.Second):
			}
			continue
		}
		log.Debugf("[JobQueue] Worker %d processing job %s (Type: %s)", id, job.ID, job.Type)
		q.run(ctx, job)
	}
}

// claim moves the oldest pending id to the processing list and loads its body.
// redis.Nil means nothing arrived within dequeueWait.
func (q *Queue) claim(ctx context.Context) (*Job, error) {
	id, err := q.client.BLMove(ctx, JobQueueKey, JobProcessingKey, "RIGHT", "LEFT", dequeueWait).Result()
	if err != nil {
		return nil, err
	}
	job, err := q.load(ctx, id)
	if err != nil {
		q.client.LRem(ctx, JobProcessingKey, 1, id)
		return nil, fmt.Errorf("claim %s: %w", id, err)
	}
	return job, nil
}

func (q *Queue) run(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	if err := q.save(ctx, job, JobTTL); err != nil {
		log.Warnf("[JobQueue] Could not mark job %s as processing: %v", job.ID, err)
	}

	err := q.dispatch(ctx, q, job)

	key := JobKeyPrefix + job.ID
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, JobProcessingKey, 1, job.ID)
	if err == nil {
		job.MarkAsCompleted()
		pipe.Del(ctx, key)
		pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusCompleted), 1)
	} else {
		job.MarkAsFailed(err.Error())
		if job.IsRetryable() {
			job.MarkAsRetrying()
			due := time.Now().Add(q.retryDelay * time.Duration(job.RetryCount))
			log.Warnf("[JobQueue] Job %s failed (attempt %d/%d), retry at %s: %v",
				job.ID, job.RetryCount, job.MaxRetries, due.Format(time.RFC3339), err)
			if data, merr := json.Marshal(job); merr == nil {
				pipe.Set(ctx, key, data, JobTTL)
			}
			pipe.ZAdd(ctx, JobDelayedKey, redis.Z{Score: float64(due.UnixMilli()), Member: job.ID})
		} else {
			log.Errorf("[JobQueue] Job %s (Type: %s) is dead after %d attempts: %v", job.ID, job.Type, job.RetryCount, err)
			if data, merr := json.Marshal(job); merr == nil {
				pipe.Set(ctx, key, data, 0)
			}
			pipe.LPush(ctx, JobDeadKey, job.ID)
			pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusFailed), 1)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[JobQueue] Recording outcome of job %s failed: %v", job.ID, err)
	}
}

// maintain moves due retries back to the pending list and recovers jobs whose worker died.
func (q *Queue) maintain(stop <-chan struct{}) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.sweepEvery)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			q.promoteDue(ctx, now)
			q.recoverStuck(ctx, now)
		}
	}
}

func (q *Queue) promoteDue(ctx context.Context, now time.Time) {
	due, err := q.client.ZRangeByScore(ctx, JobDelayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		log.Errorf("[JobQueue] Reading delayed jobs: %v", err)
		return
	}
	for _, id := range due {
		// ZRem decides which instance promotes the id
		removed, err := q.client.ZRem(ctx, JobDelayedKey, id).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, JobQueueKey, id).Err(); err != nil {
			log.Errorf("[JobQueue] Requeueing retry of %s: %v", id, err)
			q.client.ZAdd(ctx, JobDelayedKey, redis.Z{Score: float64(now.UnixMilli()), Member: id})
		}
	}
}

func (q *Queue) recoverStuck(ctx context.Context, now time.Time) {
	ids, err := q.client.LRange(ctx, JobProcessingKey, 0, -1).Result()
	if err != nil {
		log.Errorf("[JobQueue] Reading processing list: %v", err)
		return
	}
	for _, id := range ids {
		job, err := q.load(ctx, id)
		if err != nil {
			q.client.LRem(ctx, JobProcessingKey, 1, id)
			continue
		}
		held := job.UpdatedAt
		if job.Status == JobStatusProcessing && job.ProcessedAt != nil {
			held = *job.ProcessedAt
		}
		if now.Sub(held) <= q.stuckAfter {
			continue
		}

		log.Warnf("[JobQueue] Recovering job %s (Type: %s) held for %s", job.ID, job.Type, now.Sub(held).Round(time.Second))
		job.Status = JobStatusPending
		job.ErrorMsg = "worker lost"
		job.UpdatedAt = now
		data, err := json.Marshal(job)
		if err != nil {
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.Set(ctx, JobKeyPrefix+id, data, JobTTL)
		pipe.LRem(ctx, JobProcessingKey, 1, id)
		pipe.RPush(ctx, JobQueueKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Errorf("[JobQueue] Recovering job %s: %v", id, err)
		}
	}
}

func (q *Queue) EnqueueJob(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error) {
	job := newJob(uuid.New().String(), jobType, payload)
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL)
	pipe.LPush(ctx, JobQueueKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", jobType, err)
	}
	log.Infof("[JobQueue] Enqueued job %s (Type: %s)", job.ID, job.Type)
	return job, nil
}

// Requeue gives a dead job a fresh set of retries. Payload progress is kept.
func (q *Queue) Requeue(ctx context.Context, id string) (*Job, error) {
	job, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}
	removed, err := q.client.LRem(ctx, JobDeadKey, 1, id).Result()
	if err != nil {
		return nil, err
	}
	if removed == 0 {
		return nil, ErrJobNotDead
	}

	job.Revive()
	data, err := json.Marshal(job)
	if err == nil {
		pipe := q.client.TxPipeline()
		pipe.Set(ctx, JobKeyPrefix+id, data, JobTTL)
		pipe.LPush(ctx, JobQueueKey, id)
		_, err = pipe.Exec(ctx)
	}
	if err != nil {
		q.client.LPush(ctx, JobDeadKey, id)
		return nil, fmt.Errorf("requeue %s: %w", id, err)
	}
	log.Infof("[JobQueue] Dead job %s (Type: %s) requeued", id, job.Type)
	return job, nil
}

// GetJob returns the stored state of a live or dead job
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	return q.load(ctx, id)
}

func (q *Queue) load(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.Get(ctx, JobKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (q *Queue) save(ctx context.Context, job *Job, ttl time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.Set(ctx, JobKeyPrefix+job.ID, data, ttl).Err()
}

func (q *Queue) Stats(ctx context.Context) (QueueStats, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, JobQueueKey)
	processing := pipe.LLen(ctx, JobProcessingKey)
	delayed := pipe.ZCard(ctx, JobDelayedKey)
	counts := pipe.HGetAll(ctx, JobStatsKey)
	deadIDs := pipe.LRange(ctx, JobDeadKey, 0, maxListedDeadJobs-1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return QueueStats{}, err
	}

	stats := QueueStats{
		Backend:    "redis",
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Delayed:    delayed.Val(),
		Dead:       []DeadJob{},
	}
	stats.Completed, _ = strconv.ParseInt(counts.Val()[string(JobStatusCompleted)], 10, 64)
	stats.Failed, _ = strconv.ParseInt(counts.Val()[string(JobStatusFailed)], 10, 64)
	for _, id := range deadIDs.Val() {
		job, err := q.load(ctx, id)
		if err != nil {
			log.Warnf("[JobQueue] Dead job %s unreadable: %v", id, err)
			continue
		}
		stats.Dead = append(stats.Dead, deadJobOf(job))
	}
	return stats, nil
}
