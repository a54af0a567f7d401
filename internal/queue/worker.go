package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docflowhq/docflow/internal/common"
)

// HandlerFunc processes one job. A nil return completes the job; an error
// wrapped with common.ErrUnrecoverable skips remaining retries and goes
// straight to the dead-letter store.
type HandlerFunc func(ctx context.Context, job *Job) error

// QueueConfig tunes one named queue's workers.
type QueueConfig struct {
	Name          string
	Concurrency   int
	LockDuration  time.Duration // how long an acquired job stays locked
	StallInterval time.Duration // how often expired locks are swept
	MaxStalled    int           // stall requeues before dead-lettering
	MaxAttempts   int           // processing attempts before dead-lettering
	BackoffBase   time.Duration
	PollInterval  time.Duration // idle wait between Acquire probes
}

func (c *QueueConfig) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.LockDuration <= 0 {
		c.LockDuration = 30 * time.Second
	}
	if c.StallInterval <= 0 {
		c.StallInterval = c.LockDuration
	}
	if c.MaxStalled <= 0 {
		c.MaxStalled = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
}

type queueRunner struct {
	cfg     QueueConfig
	handler HandlerFunc
}

func (m *Manager) runWorker(ctx context.Context, r *queueRunner, workerID int) {
	defer m.wg.Done()
	log := m.logger.With("queue", r.cfg.Name, "worker", workerID)
	for {
		job, err := m.store.Acquire(ctx, r.cfg.Name, uuid.New().String(), r.cfg.LockDuration)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("acquire failed", "error", err)
		} else if job != nil {
			m.process(ctx, r, job, log)
			continue // drain without idling while work remains
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

func (m *Manager) process(ctx context.Context, r *queueRunner, job *Job, log *slog.Logger) {
	id := job.ID.String()
	log = log.With("job_id", id, "job_name", job.Name, "attempt", job.Attempts)
	m.emit(Event{Type: EventActive, Queue: job.Queue, JobID: job.ID, JobName: job.Name, Attempts: job.Attempts})

	if err := ValidatePayload(job.Queue, job.Payload); err != nil {
		// Retrying a malformed payload can never succeed.
		m.deadLetter(ctx, job, err)
		if ferr := m.store.Fail(ctx, id, job.LockToken, err.Error()); ferr != nil && !errors.Is(ferr, ErrLockLost) {
			log.Error("fail after invalid payload", "error", ferr)
		}
		log.Warn("rejected invalid payload", "error", err)
		return
	}

	// Keep the lock alive for handlers that outrun the lock duration.
	renewCtx, stopRenew := context.WithCancel(ctx)
	defer stopRenew()
	go m.renewLoop(renewCtx, r, job, log)

	err := r.handler(ctx, job)
	stopRenew()

	switch {
	case err == nil:
		if cerr := m.store.Complete(ctx, id, job.LockToken); cerr != nil {
			if errors.Is(cerr, ErrLockLost) {
				log.Warn("completed job lost its lock, result may run twice")
			} else {
				log.Error("complete failed", "error", cerr)
			}
			return
		}
		m.emit(Event{Type: EventCompleted, Queue: job.Queue, JobID: job.ID, JobName: job.Name, Attempts: job.Attempts})
		log.Info("job completed")

	case errors.Is(err, common.ErrUnrecoverable), job.Attempts >= r.cfg.MaxAttempts:
		m.deadLetter(ctx, job, err)
		if ferr := m.store.Fail(ctx, id, job.LockToken, err.Error()); ferr != nil && !errors.Is(ferr, ErrLockLost) {
			log.Error("fail update failed", "error", ferr)
		}
		m.emit(Event{Type: EventFailed, Queue: job.Queue, JobID: job.ID, JobName: job.Name, Attempts: job.Attempts, Err: err})
		log.Error("job dead-lettered", "error", err)

	default:
		delay := backoffDelay(r.cfg.BackoffBase, job.Attempts)
		runAt := time.Now().UTC().Add(delay)
		if rerr := m.store.Retry(ctx, id, job.LockToken, err.Error(), runAt); rerr != nil && !errors.Is(rerr, ErrLockLost) {
			log.Error("retry update failed", "error", rerr)
		}
		m.emit(Event{Type: EventRetried, Queue: job.Queue, JobID: job.ID, JobName: job.Name, Attempts: job.Attempts, Err: err})
		log.Warn("job retried", "error", err, "delay", delay)
	}
}

func (m *Manager) renewLoop(ctx context.Context, r *queueRunner, job *Job, log *slog.Logger) {
	ticker := time.NewTicker(r.cfg.LockDuration / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.store.Renew(ctx, job.ID.String(), job.LockToken, r.cfg.LockDuration); err != nil {
				if !errors.Is(err, ErrLockLost) && ctx.Err() == nil {
					log.Error("lock renew failed", "error", err)
				}
				return
			}
		}
	}
}

func (m *Manager) runStallMonitor(ctx context.Context, r *queueRunner) {
	defer m.wg.Done()
	ticker := time.NewTicker(r.cfg.StallInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requeued, exhausted, err := m.store.RequeueStalled(ctx, r.cfg.Name, r.cfg.MaxStalled)
			if err != nil {
				if ctx.Err() == nil {
					m.logger.Error("stall sweep failed", "queue", r.cfg.Name, "error", err)
				}
				continue
			}
			for _, job := range requeued {
				m.emit(Event{Type: EventStalled, Queue: job.Queue, JobID: job.ID, JobName: job.Name, Attempts: job.Attempts})
				m.logger.Warn("stalled job requeued",
					"queue", job.Queue, "job_id", job.ID, "stalled_count", job.StalledCount)
			}
			for _, job := range exhausted {
				m.deadLetter(ctx, job, fmt.Errorf("stalled %d times, budget %d", job.StalledCount, r.cfg.MaxStalled))
				m.emit(Event{Type: EventFailed, Queue: job.Queue, JobID: job.ID, JobName: job.Name, Attempts: job.Attempts})
				m.logger.Error("stalled job dead-lettered", "queue", job.Queue, "job_id", job.ID)
			}
		}
	}
}

func (m *Manager) deadLetter(ctx context.Context, job *Job, cause error) {
	rec := &DeadLetterRecord{
		Queue:        job.Queue,
		JobID:        job.ID,
		JobName:      job.Name,
		Payload:      job.Payload,
		Reason:       cause.Error(),
		AttemptsMade: job.Attempts,
	}
	if err := m.dead.Append(ctx, rec); err != nil {
		m.logger.Error("dead-letter append failed", "queue", job.Queue, "job_id", job.ID, "error", err)
	}
}
