package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/mayday-pac/pledgeservice/internal/pkg/teamledger"
)

// TeamBackfiller reconciles one batch of team ledger rows
type TeamBackfiller interface {
	BackfillBatch(ctx context.Context, cursor string, limit int) (teamledger.BatchResult, error)
}

// TeamBackfillProcessor handles one batch and enqueues the continuation until all teams are done.
// A failed batch is retried from the same cursor.
func TeamBackfillProcessor(b TeamBackfiller) ProcessorFunc {
	return func(ctx context.Context, q Enqueuer, job *Job) error {
		payload, err := TeamBackfillJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("invalid team_backfill payload: %w", err)
		}

		res, err := b.BackfillBatch(ctx, payload.Cursor, payload.BatchSize)
		if err != nil {
			return err
		}
		log.Infof("[JobQueue] Team backfill batch after %q: %d teams, %d overwritten",
			payload.Cursor, res.Processed, res.Overwritten)
		if res.Done {
			log.Info("[JobQueue] Team backfill finished")
			return nil
		}

		next := TeamBackfillJobPayload{Cursor: res.NextCursor, BatchSize: payload.BatchSize}
		if _, err := q.EnqueueJob(ctx, JobTypeTeamBackfill, next.ToMap()); err != nil {
			return fmt.Errorf("failed to enqueue next backfill batch after %q: %w", res.NextCursor, err)
		}
		return nil
	}
}

// EnqueueTeamBackfill starts a backfill from the first team
func EnqueueTeamBackfill(ctx context.Context, q Enqueuer, batchSize int) (*Job, error) {
	payload := TeamBackfillJobPayload{BatchSize: batchSize}
	return q.EnqueueJob(ctx, JobTypeTeamBackfill, payload.ToMap())
}
