package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	job := &Job{Queue: "q", Name: "import", Payload: []byte(`{"a":1}`), DedupKey: "digest", FileKey: "a.pdf"}
	require.NoError(t, s.Enqueue(ctx, job))

	got, err := s.Acquire(ctx, "q", "tok", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, []byte(`{"a":1}`), got.Payload)
	assert.Equal(t, "digest", got.DedupKey)

	require.NoError(t, s.Complete(ctx, got.ID.String(), "tok"))
	counts, err := s.Counts(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, Counts{Completed: 1}, counts)
}

func TestSQLiteAcquireSkipsEmptyAndOtherQueues(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	enqueue(t, s, "other")

	job, err := s.Acquire(ctx, "q", "tok", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestSQLiteLockTokenGuardsMutations(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	enqueue(t, s, "q")
	job, err := s.Acquire(ctx, "q", "tok", time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Fail(ctx, job.ID.String(), "stale", "boom"), ErrLockLost)
	require.NoError(t, s.Retry(ctx, job.ID.String(), "tok", "boom", time.Now().Add(-time.Second)))

	again, err := s.Acquire(ctx, "q", "tok-2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 2, again.Attempts)
	assert.Equal(t, "boom", again.LastError)
}

func TestSQLiteStallSweep(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	enqueue(t, s, "q")

	_, err := s.Acquire(ctx, "q", "tok", time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	requeued, exhausted, err := s.RequeueStalled(ctx, "q", 1)
	require.NoError(t, err)
	require.Len(t, requeued, 1)
	assert.Empty(t, exhausted)
	assert.Equal(t, 1, requeued[0].StalledCount)

	_, err = s.Acquire(ctx, "q", "tok", time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	requeued, exhausted, err = s.RequeueStalled(ctx, "q", 1)
	require.NoError(t, err)
	assert.Empty(t, requeued)
	require.Len(t, exhausted, 1)
	assert.Equal(t, StatusFailed, exhausted[0].Status)
}

func TestSQLiteHasPendingAndCancel(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	enqueue(t, s, "q", WithDedupKey("digest"), WithFileKey("a.pdf"), WithBatchID("b1"))

	pending, err := s.HasPending(ctx, "q", "a.pdf")
	require.NoError(t, err)
	assert.True(t, pending)

	n, err := s.CancelWaiting(ctx, "q", "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err = s.HasPending(ctx, "q", "digest")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestSQLiteDeadLetters(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	rec := &DeadLetterRecord{Queue: "q", JobID: uuid.New(), JobName: "import", Payload: []byte(`{}`), Reason: "gave up", AttemptsMade: 3}
	require.NoError(t, s.Append(ctx, rec))

	got, err := s.List(ctx, "q", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "gave up", got[0].Reason)
	assert.Equal(t, 3, got[0].AttemptsMade)

	all, err := s.List(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteHeartbeatUpsert(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.Heartbeat(ctx, "node-1", time.Now()))
	require.NoError(t, s.Heartbeat(ctx, "node-1", time.Now().Add(time.Second)))
}
