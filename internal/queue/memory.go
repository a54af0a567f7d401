package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a mutex-guarded Store and DeadLetterStore for tests.
type MemoryStore struct {
	mu         sync.Mutex
	jobs       map[uuid.UUID]*Job
	deadLetter []*DeadLetterRecord
	beats      map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:  make(map[uuid.UUID]*Job),
		beats: make(map[string]time.Time),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Enqueue(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	if job.Status == "" {
		job.Status = StatusWaiting
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) Acquire(_ context.Context, queue, lockToken string, lockFor time.Duration) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var candidates []*Job
	for _, j := range s.jobs {
		if j.Queue != queue {
			continue
		}
		if j.Status == StatusWaiting || (j.Status == StatusDelayed && !j.RunAt.After(now)) {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})
	j := candidates[0]
	j.Status = StatusActive
	j.LockToken = lockToken
	j.LockExpires = now.Add(lockFor)
	j.Attempts++
	j.UpdatedAt = now
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) locked(id, lockToken string) (*Job, error) {
	jobID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrLockLost
	}
	j, ok := s.jobs[jobID]
	if !ok || j.Status != StatusActive || j.LockToken != lockToken {
		return nil, ErrLockLost
	}
	return j, nil
}

func (s *MemoryStore) Renew(_ context.Context, id, lockToken string, lockFor time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.locked(id, lockToken)
	if err != nil {
		return err
	}
	j.LockExpires = time.Now().UTC().Add(lockFor)
	return nil
}

func (s *MemoryStore) Complete(_ context.Context, id, lockToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.locked(id, lockToken)
	if err != nil {
		return err
	}
	j.Status = StatusCompleted
	j.LockToken = ""
	j.LockExpires = time.Time{}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Retry(_ context.Context, id, lockToken, lastError string, runAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.locked(id, lockToken)
	if err != nil {
		return err
	}
	j.Status = StatusDelayed
	j.RunAt = runAt
	j.LastError = lastError
	j.LockToken = ""
	j.LockExpires = time.Time{}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Fail(_ context.Context, id, lockToken, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.locked(id, lockToken)
	if err != nil {
		return err
	}
	j.Status = StatusFailed
	j.LastError = lastError
	j.LockToken = ""
	j.LockExpires = time.Time{}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) RequeueStalled(_ context.Context, queue string, maxStalled int) ([]*Job, []*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var requeued, exhausted []*Job
	for _, j := range s.jobs {
		if j.Queue != queue || j.Status != StatusActive {
			continue
		}
		if j.LockExpires.IsZero() || j.LockExpires.After(now) {
			continue
		}
		j.LockToken = ""
		j.LockExpires = time.Time{}
		j.UpdatedAt = now
		if j.StalledCount < maxStalled {
			j.StalledCount++
			j.Status = StatusWaiting
			cp := *j
			requeued = append(requeued, &cp)
		} else {
			j.Status = StatusFailed
			j.LastError = "job stalled too many times"
			cp := *j
			exhausted = append(exhausted, &cp)
		}
	}
	return requeued, exhausted, nil
}

func (s *MemoryStore) CancelWaiting(_ context.Context, queue, batchID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Queue == queue && j.BatchID == batchID &&
			(j.Status == StatusWaiting || j.Status == StatusDelayed) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) HasPending(_ context.Context, queue, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Queue != queue {
			continue
		}
		switch j.Status {
		case StatusWaiting, StatusActive, StatusDelayed:
			if j.DedupKey == key || j.FileKey == key {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *MemoryStore) Counts(_ context.Context, queue string) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c Counts
	for _, j := range s.jobs {
		if j.Queue != queue {
			continue
		}
		switch j.Status {
		case StatusWaiting:
			c.Waiting++
		case StatusActive:
			c.Active++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		case StatusDelayed:
			c.Delayed++
		}
	}
	return c, nil
}

func (s *MemoryStore) Heartbeat(_ context.Context, instance string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beats[instance] = at
	return nil
}

func (s *MemoryStore) PurgeCompleted(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status == StatusCompleted && j.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Append(_ context.Context, rec *DeadLetterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now().UTC()
	cp := *rec
	s.deadLetter = append(s.deadLetter, &cp)
	return nil
}

func (s *MemoryStore) List(_ context.Context, queue string, limit int) ([]*DeadLetterRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*DeadLetterRecord
	for i := len(s.deadLetter) - 1; i >= 0; i-- {
		rec := s.deadLetter[i]
		if queue != "" && rec.Queue != queue {
			continue
		}
		cp := *rec
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Job returns a copy of a stored job, for test assertions.
func (s *MemoryStore) Job(id uuid.UUID) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}
