package queue

import (
	"context"
	"errors"
	"time"
)

// ErrLockLost is returned when a job mutation presents a stale lock token,
// meaning the stall monitor already requeued or failed the job.
var ErrLockLost = errors.New("job lock lost")

// Store is the durable backing for queues. Acquire and the mutators must be
// atomic per job; all other methods are reads.
type Store interface {
	Enqueue(ctx context.Context, job *Job) error
	// Acquire atomically claims the next runnable job (waiting, or delayed
	// with run_at due) ordered by priority then age, marking it active under
	// lockToken for lockFor. Returns nil when the queue is empty.
	Acquire(ctx context.Context, queue, lockToken string, lockFor time.Duration) (*Job, error)
	// Renew extends the lock of an active job.
	Renew(ctx context.Context, id string, lockToken string, lockFor time.Duration) error
	Complete(ctx context.Context, id string, lockToken string) error
	// Retry schedules another attempt at runAt, recording lastError.
	Retry(ctx context.Context, id string, lockToken, lastError string, runAt time.Time) error
	// Fail marks the job terminally failed.
	Fail(ctx context.Context, id string, lockToken, lastError string) error
	// RequeueStalled finds active jobs whose lock expired: jobs under the
	// stall budget go back to waiting with stalled_count incremented, the
	// rest are failed and returned as exhausted.
	RequeueStalled(ctx context.Context, queue string, maxStalled int) (requeued, exhausted []*Job, err error)
	// CancelWaiting removes not-yet-started jobs of an import batch.
	CancelWaiting(ctx context.Context, queue, batchID string) (int, error)
	// HasPending reports whether any waiting/active/delayed job in the queue
	// carries key as its dedup key or file key.
	HasPending(ctx context.Context, queue, key string) (bool, error)
	Counts(ctx context.Context, queue string) (Counts, error)
	// Heartbeat records process liveness for external probing.
	Heartbeat(ctx context.Context, instance string, at time.Time) error
	// PurgeCompleted deletes completed jobs finished before cutoff.
	PurgeCompleted(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// DeadLetterStore retains terminally failed jobs indefinitely for manual
// inspection and replay. Append-only.
type DeadLetterStore interface {
	Append(ctx context.Context, rec *DeadLetterRecord) error
	List(ctx context.Context, queue string, limit int) ([]*DeadLetterRecord, error)
}
