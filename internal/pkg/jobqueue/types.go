package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeAggregateUpdate JobType = "aggregate_update"
	JobTypeTeamBackfill    JobType = "team_backfill"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// AggregateUpdateJobPayload carries the aggregate updates of one pledge that still have to be applied.
// The done flags are persisted with the job so a retry never repeats a step that already committed.
type AggregateUpdateJobPayload struct {
	PledgeID    uint   `json:"pledge_id"`
	Team        string `json:"team"`
	AmountCents int64  `json:"amount_cents"`
	CounterDone bool   `json:"counter_done"`
	LedgerDone  bool   `json:"ledger_done"`
}

// ToMap converts the payload to a map for storage
func (p AggregateUpdateJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"pledge_id":    p.PledgeID,
		"team":         p.Team,
		"amount_cents": p.AmountCents,
		"counter_done": p.CounterDone,
		"ledger_done":  p.LedgerDone,
	}
}

// Done reports whether no step is left
func (p AggregateUpdateJobPayload) Done() bool {
	return p.CounterDone && (p.LedgerDone || p.Team == "")
}

// AggregateUpdateJobPayloadFromMap creates a payload from a map
func AggregateUpdateJobPayloadFromMap(data map[string]interface{}) (*AggregateUpdateJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload AggregateUpdateJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// TeamBackfillJobPayload contains the resumption state of the team ledger backfill
type TeamBackfillJobPayload struct {
	Cursor    string `json:"cursor"` // last processed team; "" = start
	BatchSize int    `json:"batch_size"`
}

func (p TeamBackfillJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"cursor":     p.Cursor,
		"batch_size": p.BatchSize,
	}
}

func TeamBackfillJobPayloadFromMap(data map[string]interface{}) (*TeamBackfillJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var payload TeamBackfillJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}

// Revive resets a dead job so it runs again with a fresh set of retries
func (j *Job) Revive() {
	j.Status = JobStatusPending
	j.UpdatedAt = time.Now()
	j.ErrorMsg = ""
	j.RetryCount = 0
}

// QueueStats is a point-in-time view of a job queue
type QueueStats struct {
	Backend    string `json:"backend"`
	Pending    int64  `json:"pending"`
	Processing int64  `json:"processing"`
	Delayed    int64  `json:"delayed"`
	Completed  int64  `json:"completed"`
	Failed     int64  `json:"failed"`
	// Dead lists the most recent jobs whose retries are spent. Their work was not applied.
	Dead []DeadJob `json:"dead"`
}

// DeadJob describes a job that exhausted its retries
type DeadJob struct {
	ID       string                 `json:"id"`
	Type     JobType                `json:"type"`
	Error    string                 `json:"error"`
	Attempts int                    `json:"attempts"`
	FailedAt time.Time              `json:"failedAt"`
	Payload  map[string]interface{} `json:"payload"`
}

func deadJobOf(j *Job) DeadJob {
	return DeadJob{
		ID:       j.ID,
		Type:     j.Type,
		Error:    j.ErrorMsg,
		Attempts: j.RetryCount,
		FailedAt: j.UpdatedAt,
		Payload:  j.Payload,
	}
}

func newJob(id string, jobType JobType, payload map[string]interface{}) *Job {
	now := time.Now()
	return &Job{
		ID:         id,
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		RetryCount: 0,
		MaxRetries: DefaultMaxRetries,
	}
}
