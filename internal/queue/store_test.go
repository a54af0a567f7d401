package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enqueue(t *testing.T, s Store, queueName string, opts ...JobOption) *Job {
	t.Helper()
	job := &Job{Queue: queueName, Name: "job", Payload: []byte(`{}`)}
	for _, opt := range opts {
		opt(job)
	}
	require.NoError(t, s.Enqueue(context.Background(), job))
	return job
}

func TestMemoryStoreAcquireOrdersByPriorityThenAge(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	low := enqueue(t, s, "q")
	high := enqueue(t, s, "q", WithPriority(10))

	first, err := s.Acquire(ctx, "q", "tok-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, high.ID, first.ID)

	second, err := s.Acquire(ctx, "q", "tok-2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, low.ID, second.ID)

	none, err := s.Acquire(ctx, "q", "tok-3", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMemoryStoreDelayedJobNotRunnableUntilDue(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	enqueue(t, s, "q", WithDelay(time.Hour))

	job, err := s.Acquire(ctx, "q", "tok", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestMemoryStoreStaleLockTokenRejected(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	enqueue(t, s, "q")
	job, err := s.Acquire(ctx, "q", "tok", time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Complete(ctx, job.ID.String(), "other-token"), ErrLockLost)
	assert.ErrorIs(t, s.Renew(ctx, job.ID.String(), "other-token", time.Minute), ErrLockLost)
	require.NoError(t, s.Complete(ctx, job.ID.String(), "tok"))
	// Completing twice loses the lock: the job is no longer active.
	assert.ErrorIs(t, s.Complete(ctx, job.ID.String(), "tok"), ErrLockLost)
}

func TestMemoryStoreRetryDelaysJob(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	enqueue(t, s, "q")
	job, err := s.Acquire(ctx, "q", "tok", time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.Retry(ctx, job.ID.String(), "tok", "boom", time.Now().Add(-time.Second)))
	again, err := s.Acquire(ctx, "q", "tok-2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)
	assert.Equal(t, "boom", again.LastError)
}

func TestMemoryStoreStallRequeueThenExhaust(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	const maxStalled = 2
	created := enqueue(t, s, "q")

	// Each cycle claims the job with a tiny lock, lets it expire, and
	// sweeps. The stall budget admits maxStalled requeues.
	for i := 0; i < maxStalled; i++ {
		job, err := s.Acquire(ctx, "q", "tok", time.Nanosecond)
		require.NoError(t, err)
		require.NotNil(t, job)
		time.Sleep(2 * time.Millisecond)

		requeued, exhausted, err := s.RequeueStalled(ctx, "q", maxStalled)
		require.NoError(t, err)
		require.Len(t, requeued, 1)
		assert.Empty(t, exhausted)
		assert.Equal(t, i+1, requeued[0].StalledCount)
		assert.Equal(t, StatusWaiting, requeued[0].Status)
	}

	_, err := s.Acquire(ctx, "q", "tok", time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	requeued, exhausted, err := s.RequeueStalled(ctx, "q", maxStalled)
	require.NoError(t, err)
	assert.Empty(t, requeued)
	require.Len(t, exhausted, 1)
	assert.Equal(t, created.ID, exhausted[0].ID)
	assert.Equal(t, StatusFailed, exhausted[0].Status)
	assert.Equal(t, maxStalled+1, exhausted[0].Attempts)
}

func TestMemoryStoreHasPendingMatchesEitherKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	enqueue(t, s, "q", WithDedupKey("digest-1"), WithFileKey("a.pdf"))

	byDigest, err := s.HasPending(ctx, "q", "digest-1")
	require.NoError(t, err)
	assert.True(t, byDigest)

	byName, err := s.HasPending(ctx, "q", "a.pdf")
	require.NoError(t, err)
	assert.True(t, byName)

	miss, err := s.HasPending(ctx, "q", "other")
	require.NoError(t, err)
	assert.False(t, miss)

	empty, err := s.HasPending(ctx, "q", "")
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestMemoryStoreCancelWaitingRemovesBatchJobs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	enqueue(t, s, "q", WithBatchID("batch-1"))
	enqueue(t, s, "q", WithBatchID("batch-1"), WithDelay(time.Hour))
	enqueue(t, s, "q", WithBatchID("batch-2"))
	enqueue(t, s, "q", WithBatchID("batch-1"))

	// Claim the oldest batch-1 job so one of the three is active.
	_, err := s.Acquire(ctx, "q", "tok", time.Minute)
	require.NoError(t, err)

	n, err := s.CancelWaiting(ctx, "q", "batch-1")
	require.NoError(t, err)
	// Active jobs are not rolled back; only waiting and delayed go.
	assert.Equal(t, 2, n)

	counts, err := s.Counts(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Waiting) // batch-2
	assert.Equal(t, 1, counts.Active)
}

func TestMemoryStorePurgeCompleted(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	enqueue(t, s, "q")
	job, err := s.Acquire(ctx, "q", "tok", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, job.ID.String(), "tok"))

	n, err := s.PurgeCompleted(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	counts, err := s.Counts(ctx, "q")
	require.NoError(t, err)
	assert.Zero(t, counts.Completed)
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	base := 2 * time.Second
	assert.Equal(t, 2*time.Second, backoffDelay(base, 1))
	assert.Equal(t, 4*time.Second, backoffDelay(base, 2))
	assert.Equal(t, 8*time.Second, backoffDelay(base, 3))
	assert.Equal(t, 5*time.Minute, backoffDelay(base, 20))
}
