// Package queue implements the durable, store-backed job orchestrator: named
// queues with independent concurrency, lock-based stall recovery, retry with
// exponential backoff, and a dead-letter store for jobs that exhaust their
// attempts.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Status is the job state machine:
// waiting -> active -> completed | failed | delayed -> waiting.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDelayed   Status = "delayed"
)

// Job is one unit of queued work. Exactly one worker holds its lock while
// it is active; every mutation after acquisition requires the lock token.
type Job struct {
	ID           uuid.UUID
	Queue        string
	Name         string
	Payload      []byte // JSON, validated against the queue schema at dequeue
	Priority     int
	Status       Status
	Attempts     int // processing attempts made
	StalledCount int
	DedupKey     string // typically the content digest
	FileKey      string // typically the file name
	BatchID      string // import batch for cooperative cancellation
	LockToken    string
	LockExpires  time.Time
	RunAt        time.Time // earliest execution time for delayed jobs
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DeadLetterRecord is the append-only audit entry for a terminally failed
// job. It preserves the payload so failures can be replayed manually.
type DeadLetterRecord struct {
	ID           uuid.UUID
	Queue        string
	JobID        uuid.UUID
	JobName      string
	Payload      []byte
	Reason       string
	AttemptsMade int
	CreatedAt    time.Time
}

// Counts samples a queue's depth per state.
type Counts struct {
	Waiting   int
	Active    int
	Completed int
	Failed    int
	Delayed   int
}

// JobOption customizes an enqueued job.
type JobOption func(*Job)

func WithPriority(p int) JobOption       { return func(j *Job) { j.Priority = p } }
func WithDedupKey(k string) JobOption    { return func(j *Job) { j.DedupKey = k } }
func WithFileKey(k string) JobOption     { return func(j *Job) { j.FileKey = k } }
func WithBatchID(id string) JobOption    { return func(j *Job) { j.BatchID = id } }
func WithDelay(d time.Duration) JobOption {
	return func(j *Job) {
		j.Status = StatusDelayed
		j.RunAt = time.Now().UTC().Add(d)
	}
}

// backoffDelay doubles per attempt from base, capped at 5 minutes.
func backoffDelay(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= 5*time.Minute {
			return 5 * time.Minute
		}
	}
	return d
}
