package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrJobNotFound is returned for an unknown or expired job id
	ErrJobNotFound = errors.New("jobqueue: job not found")
	// ErrJobNotDead is returned when requeueing a job that still has retries left
	ErrJobNotDead = errors.New("jobqueue: job is not dead")
)

// Enqueuer accepts jobs for asynchronous processing
type Enqueuer interface {
	EnqueueJob(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error)
}

// ProcessorFunc handles one job. It may change job.Payload; the changed payload is what a
// retry sees. Follow-up jobs are enqueued through q.
type ProcessorFunc func(ctx context.Context, q Enqueuer, job *Job) error

type registry struct {
	mu         sync.RWMutex
	processors map[JobType]ProcessorFunc
}

// Register sets the processor of a job type, replacing any earlier one
func (r *registry) Register(jobType JobType, fn ProcessorFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.processors == nil {
		r.processors = map[JobType]ProcessorFunc{}
	}
	r.processors[jobType] = fn
}

func (r *registry) dispatch(ctx context.Context, q Enqueuer, job *Job) error {
	r.mu.RLock()
	fn, ok := r.processors[job.Type]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	return fn(ctx, q, job)
}
