package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
)

// AggregateApplier applies the pending steps of an aggregate update and flags the ones that committed.
type AggregateApplier interface {
	ApplyAggregateUpdate(ctx context.Context, p *AggregateUpdateJobPayload) error
}

// AggregateUpdateProcessor retries aggregate updates that failed during pledge creation.
func AggregateUpdateProcessor(applier AggregateApplier) ProcessorFunc {
	return func(ctx context.Context, q Enqueuer, job *Job) error {
		payload, err := AggregateUpdateJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("invalid aggregate_update payload: %w", err)
		}
		if payload.Done() {
			return nil
		}

		err = applier.ApplyAggregateUpdate(ctx, payload)
		// Keep the progress even on failure so the retry skips committed steps
		job.Payload = payload.ToMap()
		if err != nil {
			return err
		}
		log.Infof("[JobQueue] Aggregates of pledge %d applied", payload.PledgeID)
		return nil
	}
}

// EnqueueAggregateUpdate schedules the remaining aggregate steps of a pledge
func EnqueueAggregateUpdate(ctx context.Context, q Enqueuer, p AggregateUpdateJobPayload) (*Job, error) {
	job, err := q.EnqueueJob(ctx, JobTypeAggregateUpdate, p.ToMap())
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue aggregate update for pledge %d: %w", p.PledgeID, err)
	}
	return job, nil
}
