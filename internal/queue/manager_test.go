package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflowhq/docflow/internal/common"
)

func startManager(t *testing.T, cfg QueueConfig, handler HandlerFunc) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	m := NewManager(store, store, nil)
	require.NoError(t, m.Register(cfg, handler))

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	t.Cleanup(func() {
		cancel()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = m.Shutdown(shutdownCtx)
	})
	return m, store
}

func fastQueue(name string) QueueConfig {
	return QueueConfig{
		Name:         name,
		Concurrency:  1,
		LockDuration: time.Second,
		MaxAttempts:  3,
		BackoffBase:  time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}
}

func TestManagerCompletesSuccessfulJob(t *testing.T) {
	var runs atomic.Int32
	m, store := startManager(t, fastQueue("work"), func(context.Context, *Job) error {
		runs.Add(1)
		return nil
	})

	job, err := m.EnqueueJSON(context.Background(), "work", "noop", map[string]string{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, ok := store.Job(job.ID)
		return ok && j.Status == StatusCompleted
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestManagerRetriesWithBackoffThenSucceeds(t *testing.T) {
	var runs atomic.Int32
	m, store := startManager(t, fastQueue("work"), func(context.Context, *Job) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	job, err := m.EnqueueJSON(context.Background(), "work", "flaky", map[string]string{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, ok := store.Job(job.ID)
		return ok && j.Status == StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), runs.Load())

	j, _ := store.Job(job.ID)
	assert.Equal(t, 3, j.Attempts)
}

func TestManagerDeadLettersAfterMaxAttempts(t *testing.T) {
	var runs atomic.Int32
	cfg := fastQueue("work")
	cfg.MaxAttempts = 2
	m, store := startManager(t, cfg, func(context.Context, *Job) error {
		runs.Add(1)
		return errors.New("always broken")
	})

	job, err := m.EnqueueJSON(context.Background(), "work", "doomed", map[string]string{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, ok := store.Job(job.ID)
		return ok && j.Status == StatusFailed
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), runs.Load())

	dead, err := store.List(context.Background(), "work", 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, job.ID, dead[0].JobID)
	assert.Equal(t, 2, dead[0].AttemptsMade)
	assert.Contains(t, dead[0].Reason, "always broken")
}

func TestManagerUnrecoverableSkipsRetries(t *testing.T) {
	var runs atomic.Int32
	m, store := startManager(t, fastQueue("work"), func(context.Context, *Job) error {
		runs.Add(1)
		return common.Unrecoverablef("bad payload shape")
	})

	job, err := m.EnqueueJSON(context.Background(), "work", "fatal", map[string]string{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, ok := store.Job(job.ID)
		return ok && j.Status == StatusFailed
	}, 3*time.Second, 10*time.Millisecond)
	// One attempt only; unrecoverable failures never retry.
	assert.Equal(t, int32(1), runs.Load())

	dead, err := store.List(context.Background(), "work", 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 1, dead[0].AttemptsMade)
}

func TestManagerRejectsInvalidPayloadWithoutRunningHandler(t *testing.T) {
	var runs atomic.Int32
	// The email queue has a registered schema; a payload missing its
	// required fields must never reach the handler.
	m, store := startManager(t, fastQueue("email"), func(context.Context, *Job) error {
		runs.Add(1)
		return nil
	})

	job, err := m.EnqueueJSON(context.Background(), "email", "bad", map[string]string{"not": "an email"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, ok := store.Job(job.ID)
		return ok && j.Status == StatusFailed
	}, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, runs.Load())

	dead, err := store.List(context.Background(), "email", 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].Reason, "payload schema")
}

func TestManagerEmitsLifecycleEvents(t *testing.T) {
	m, store := startManager(t, fastQueue("work"), func(context.Context, *Job) error {
		return nil
	})

	job, err := m.EnqueueJSON(context.Background(), "work", "observed", map[string]string{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		j, ok := store.Job(job.ID)
		return ok && j.Status == StatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	seen := map[EventType]bool{}
	timeout := time.After(time.Second)
	for !(seen[EventActive] && seen[EventCompleted]) {
		select {
		case ev := <-m.Events():
			seen[ev.Type] = true
			assert.Equal(t, "work", ev.Queue)
		case <-timeout:
			t.Fatalf("missing lifecycle events, saw %v", seen)
		}
	}
}

func TestManagerDeadLettersJobStalledPastBudget(t *testing.T) {
	// A worker that dies without completing leaves its job locked until the
	// stall monitor sweeps it. After MaxStalled requeues the next stall
	// dead-letters the job instead of requeueing again.
	blocker := make(chan struct{})
	cfg := QueueConfig{
		Name:          "work",
		Concurrency:   1,
		LockDuration:  200 * time.Millisecond,
		StallInterval: 20 * time.Millisecond,
		MaxStalled:    1,
		MaxAttempts:   3,
		BackoffBase:   time.Millisecond,
		PollInterval:  5 * time.Millisecond,
	}
	m, store := startManager(t, cfg, func(context.Context, *Job) error {
		<-blocker
		return nil
	})
	defer close(blocker)
	ctx := context.Background()

	// Pin the only worker so it cannot pick up the victim job.
	pin, err := m.EnqueueJSON(ctx, "work", "pin", map[string]string{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		j, ok := store.Job(pin.ID)
		return ok && j.Status == StatusActive
	}, 3*time.Second, 5*time.Millisecond)

	victim, err := m.EnqueueJSON(ctx, "work", "stuck", map[string]string{})
	require.NoError(t, err)

	// First crashed worker: acquire with a lock that expires immediately
	// and never renew it.
	got, err := store.Acquire(ctx, "work", "crashed-1", time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, victim.ID, got.ID)

	require.Eventually(t, func() bool {
		j, ok := store.Job(victim.ID)
		return ok && j.Status == StatusWaiting && j.StalledCount == 1
	}, 3*time.Second, 5*time.Millisecond)

	// Second crashed worker exhausts the stall budget.
	got, err = store.Acquire(ctx, "work", "crashed-2", time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, victim.ID, got.ID)

	require.Eventually(t, func() bool {
		j, ok := store.Job(victim.ID)
		return ok && j.Status == StatusFailed
	}, 3*time.Second, 5*time.Millisecond)

	dead, err := store.List(ctx, "work", 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, victim.ID, dead[0].JobID)
	// One acquisition per stall, so the count lands at MaxStalled+1.
	assert.Equal(t, cfg.MaxStalled+1, dead[0].AttemptsMade)
	assert.Contains(t, dead[0].Reason, "stalled")

	seen := map[EventType]bool{}
	timeout := time.After(time.Second)
	for !(seen[EventStalled] && seen[EventFailed]) {
		select {
		case ev := <-m.Events():
			if ev.JobID == victim.ID {
				seen[ev.Type] = true
			}
		case <-timeout:
			t.Fatalf("missing stall lifecycle events, saw %v", seen)
		}
	}
}

func TestManagerRegisterValidation(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, store, nil)
	assert.Error(t, m.Register(QueueConfig{}, func(context.Context, *Job) error { return nil }))
	assert.Error(t, m.Register(QueueConfig{Name: "q"}, nil))
	require.NoError(t, m.Register(fastQueue("q"), func(context.Context, *Job) error { return nil }))
	assert.Error(t, m.Register(fastQueue("q"), func(context.Context, *Job) error { return nil }))
}
